package containerdriver

import (
	"context"
	"fmt"
	"strings"

	"github.com/envforge/envforge/pkg/health"
	"github.com/envforge/envforge/pkg/types"
)

// healthConfig is the Retries/threshold policy every probe is judged
// against; the driver has no per-instance override yet, so every checker
// shares pkg/health's own defaults.
var healthConfig = health.DefaultConfig()

// buildChecker maps a ContainerInstance's HealthURL onto the pkg/health
// checker its scheme names: "http(s)://" for an HTTP probe, "tcp://" for a
// bare TCP dial, "exec://" for a command run on the host. An empty or
// unrecognized URL yields a nil checker, which ProbeHealth skips.
func buildChecker(healthURL string) health.Checker {
	switch {
	case strings.HasPrefix(healthURL, "http://"), strings.HasPrefix(healthURL, "https://"):
		return health.NewHTTPChecker(healthURL)
	case strings.HasPrefix(healthURL, "tcp://"):
		return health.NewTCPChecker(strings.TrimPrefix(healthURL, "tcp://"))
	case strings.HasPrefix(healthURL, "exec://"):
		fields := strings.Fields(strings.TrimPrefix(healthURL, "exec://"))
		if len(fields) == 0 {
			return nil
		}
		return health.NewExecChecker(fields)
	default:
		return nil
	}
}

// toHealthStatus rebuilds the in-memory pkg/health.Status Update expects
// from ContainerInstance's persisted bookkeeping, or a fresh Status for a
// container probed for the first time.
func toHealthStatus(prev *types.HealthStatus) *health.Status {
	if prev == nil {
		return health.NewStatus()
	}
	return &health.Status{
		ConsecutiveFailures:  prev.ConsecutiveFailures,
		ConsecutiveSuccesses: prev.ConsecutiveSuccesses,
		LastCheck:            prev.CheckedAt,
		LastResult:           health.Result{Healthy: prev.Healthy, Message: prev.Message, CheckedAt: prev.CheckedAt},
		Healthy:              prev.Healthy,
		StartedAt:            prev.CheckedAt,
	}
}

// fromHealthStatus narrows a pkg/health.Status back down to the fields
// ContainerInstance actually persists.
func fromHealthStatus(s *health.Status) *types.HealthStatus {
	return &types.HealthStatus{
		Healthy:              s.Healthy,
		Message:              s.LastResult.Message,
		CheckedAt:            s.LastCheck,
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
	}
}

// ProbeHealth runs each RUNNING Container Instance's configured health
// check (if HealthURL is set) and persists the updated HealthStatus. An
// instance without a HealthURL, not yet RUNNING, or with an unrecognized
// URL scheme is skipped rather than erroring the whole call.
func (d *Driver) ProbeHealth(ctx context.Context, environmentID string) error {
	instances, err := d.store.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("list container instances: %w", err)
	}

	for _, instance := range instances {
		if instance.Status != types.ContainerRunning || instance.HealthURL == "" {
			continue
		}
		checker := buildChecker(instance.HealthURL)
		if checker == nil {
			continue
		}

		status := toHealthStatus(instance.HealthStatus)
		status.Update(checker.Check(ctx), healthConfig)

		instance.HealthStatus = fromHealthStatus(status)
		instance.LastProbeAt = status.LastCheck

		if err := d.store.UpdateContainerInstance(instance); err != nil {
			return fmt.Errorf("persist container instance: %w", err)
		}
	}
	return nil
}
