// Package reaper runs the scheduled sweeps that keep environment state
// converging without a user driving every transition by hand: idle
// environments get stopped, environments stuck mid-transition get forced to
// a terminal state, workspace archives and port leases past their retention
// window get deleted once their owning environment is gone, and old metric
// samples are pruned. Each scan is idempotent and safe to run concurrently
// with the others; a crash between scans loses nothing since every scan
// recomputes its worklist from the repository rather than from its own
// memory.
package reaper

import (
	"context"
	"time"

	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// OrchestratorControl is the narrow slice of pkg/orchestrator.Orchestrator
// this package depends on, kept as an interface so tests can substitute a
// fake instead of a real orchestrator wired to real drivers.
type OrchestratorControl interface {
	StopEnvironment(ctx context.Context, environmentID string) error
	DeleteEnvironment(ctx context.Context, environmentID string) error
}

// ArchiveGC is the narrow slice of pkg/archive.Store this package depends on.
type ArchiveGC interface {
	Delete(archiveID string) error
}

// HealthProber is the narrow slice of pkg/containerdriver.Driver this
// package depends on for probing container health.
type HealthProber interface {
	ProbeHealth(ctx context.Context, environmentID string) error
}

// transitionalStatuses are the non-terminal, non-running states an
// environment can get stuck in if the process driving it crashes mid-flight.
var transitionalStatuses = []types.EnvironmentStatus{
	types.StatusCreating,
	types.StatusStarting,
	types.StatusStopping,
	types.StatusDeleting,
}

// Config tunes the six scan intervals and their thresholds. The zero
// value is not meant to be used directly; New fills in defaults for any
// field left at zero.
type Config struct {
	IdleScanInterval    time.Duration
	StaleScanInterval   time.Duration
	ArchiveGCInterval   time.Duration
	PortLeaseInterval   time.Duration
	MetricGCInterval    time.Duration
	HealthProbeInterval time.Duration

	// StaleThreshold is how long an environment may sit in a transitional
	// status before the stale-cleanup scan forces it to DELETING.
	StaleThreshold time.Duration
	// ArchiveRetention is how long a Workspace Archive survives after its
	// owning environment is gone before archive GC deletes it.
	ArchiveRetention time.Duration
	// MetricRetention is how long a metric sample survives before it is
	// pruned, regardless of its environment's status.
	MetricRetention time.Duration
	// BatchSize caps how many records a single scan acts on, so one sweep
	// over a large backlog cannot monopolize the orchestrator or storage.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.IdleScanInterval <= 0 {
		c.IdleScanInterval = time.Hour
	}
	if c.StaleScanInterval <= 0 {
		c.StaleScanInterval = time.Hour
	}
	if c.ArchiveGCInterval <= 0 {
		c.ArchiveGCInterval = 24 * time.Hour
	}
	if c.PortLeaseInterval <= 0 {
		c.PortLeaseInterval = 24 * time.Hour
	}
	if c.MetricGCInterval <= 0 {
		c.MetricGCInterval = 24 * time.Hour
	}
	if c.HealthProbeInterval <= 0 {
		c.HealthProbeInterval = 5 * time.Minute
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 24 * time.Hour
	}
	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = 30 * 24 * time.Hour
	}
	if c.MetricRetention <= 0 {
		c.MetricRetention = 30 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Reaper owns the six background sweeps. The zero value is not usable;
// build one with New.
type Reaper struct {
	store    storage.Store
	orch     OrchestratorControl
	archives ArchiveGC
	health   HealthProber
	cfg      Config
	stopCh   chan struct{}
}

// New builds a Reaper. cfg's zero fields are replaced with defaults. health
// may be nil, in which case the health-probe scan never runs.
func New(store storage.Store, orch OrchestratorControl, archives ArchiveGC, health HealthProber, cfg Config) *Reaper {
	return &Reaper{
		store:    store,
		orch:     orch,
		archives: archives,
		health:   health,
		cfg:      cfg.withDefaults(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches every scan, each on its own ticker. They all share stopCh
// so a single Stop call ends every scan.
func (r *Reaper) Start() {
	go r.runLoop(r.cfg.IdleScanInterval, "idle-auto-stop", r.idleAutoStop)
	go r.runLoop(r.cfg.StaleScanInterval, "stale-cleanup", r.staleCleanup)
	go r.runLoop(r.cfg.ArchiveGCInterval, "archive-gc", r.archiveGC)
	go r.runLoop(r.cfg.PortLeaseInterval, "port-lease-gc", r.portLeaseGC)
	go r.runLoop(r.cfg.MetricGCInterval, "metric-prune", r.metricPrune)
	if r.health != nil {
		go r.runLoop(r.cfg.HealthProbeInterval, "health-probe", r.healthProbe)
	}
}

// Stop ends every running scan.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) runLoop(interval time.Duration, name string, scan func(context.Context)) {
	scanLog := log.WithComponent("reaper." + name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			start := time.Now()
			scan(ctx)
			scanLog.Debug().Dur("took", time.Since(start)).Msg("scan complete")
		case <-r.stopCh:
			return
		}
	}
}

// idleAutoStop stops RUNNING environments that have sat untouched longer
// than their own AutoStopHours. An environment with AutoStopHours <= 0 has
// auto-stop disabled and is skipped.
func (r *Reaper) idleAutoStop(ctx context.Context) {
	scanLog := log.WithComponent("reaper.idle-auto-stop")

	envs, err := r.store.ListEnvironmentsByStatus(types.StatusRunning)
	if err != nil {
		scanLog.Warn().Err(err).Msg("list running environments failed")
		return
	}

	now := time.Now()
	acted := 0
	for _, env := range envs {
		if acted >= r.cfg.BatchSize {
			break
		}
		if env.AutoStopHours <= 0 {
			continue
		}
		idleFor := now.Sub(env.LastAccessed)
		if idleFor < time.Duration(env.AutoStopHours*float64(time.Hour)) {
			continue
		}

		if err := r.orch.StopEnvironment(ctx, env.ID); err != nil {
			scanLog.Warn().Err(err).Str("environment_id", env.ID).Msg("auto-stop failed")
			continue
		}
		acted++
		scanLog.Info().Str("environment_id", env.ID).Dur("idle_for", idleFor).Msg("environment auto-stopped")
	}
}

// staleCleanup forces environments that have been stuck in a transitional
// status (a crashed or hung provisioning/teardown run) past StaleThreshold
// into DELETING via the orchestrator's existing universal escape.
func (r *Reaper) staleCleanup(ctx context.Context) {
	scanLog := log.WithComponent("reaper.stale-cleanup")
	now := time.Now()
	acted := 0

	for _, status := range transitionalStatuses {
		if acted >= r.cfg.BatchSize {
			return
		}
		envs, err := r.store.ListEnvironmentsByStatus(status)
		if err != nil {
			scanLog.Warn().Err(err).Str("status", string(status)).Msg("list environments failed")
			continue
		}
		for _, env := range envs {
			if acted >= r.cfg.BatchSize {
				return
			}
			stuckFor := now.Sub(env.UpdatedAt)
			if stuckFor <= r.cfg.StaleThreshold {
				continue
			}

			if err := r.orch.DeleteEnvironment(ctx, env.ID); err != nil {
				scanLog.Warn().Err(err).Str("environment_id", env.ID).Msg("stale cleanup failed")
				continue
			}
			acted++
			scanLog.Info().Str("environment_id", env.ID).Str("status", string(status)).
				Dur("stuck_for", stuckFor).Msg("stale environment forced to deleting")
		}
	}
}

// archiveGC deletes Workspace Archives older than ArchiveRetention whose
// owning environment is gone or already DESTROYED. An archive whose
// environment is still present and not destroyed is left alone even past
// the retention cutoff, since it may still be needed for a future apply.
func (r *Reaper) archiveGC(ctx context.Context) {
	scanLog := log.WithComponent("reaper.archive-gc")
	cutoff := time.Now().Add(-r.cfg.ArchiveRetention).Unix()

	archives, err := r.store.ListWorkspaceArchivesOlderThan(cutoff)
	if err != nil {
		scanLog.Warn().Err(err).Msg("list workspace archives failed")
		return
	}

	acted := 0
	for _, a := range archives {
		if acted >= r.cfg.BatchSize {
			break
		}

		env, err := r.store.GetEnvironment(a.EnvironmentID)
		orphaned := err != nil || env.Status == types.StatusDestroyed
		if !orphaned {
			continue
		}

		if err := r.archives.Delete(a.ID); err != nil {
			scanLog.Warn().Err(err).Str("archive_id", a.ID).Msg("archive gc failed")
			continue
		}
		acted++
		scanLog.Info().Str("archive_id", a.ID).Str("environment_id", a.EnvironmentID).Msg("archive garbage collected")
	}
}

// portLeaseGC releases host-port leases whose owning environment is gone or
// already DESTROYED. A lease for a live environment is left alone regardless
// of age, since the environment may still be RUNNING on that port.
func (r *Reaper) portLeaseGC(ctx context.Context) {
	scanLog := log.WithComponent("reaper.port-lease-gc")

	leases, err := r.store.ListPortLeases()
	if err != nil {
		scanLog.Warn().Err(err).Msg("list port leases failed")
		return
	}

	acted := 0
	for _, l := range leases {
		if acted >= r.cfg.BatchSize {
			break
		}

		env, err := r.store.GetEnvironment(l.EnvironmentID)
		orphaned := err != nil || env.Status == types.StatusDestroyed
		if !orphaned {
			continue
		}

		if err := r.store.DeletePortLease(l.HostPort); err != nil {
			scanLog.Warn().Err(err).Int("host_port", l.HostPort).Msg("port lease gc failed")
			continue
		}
		acted++
		scanLog.Info().Int("host_port", l.HostPort).Str("environment_id", l.EnvironmentID).Msg("port lease released")
	}
}

// metricPrune deletes metric samples older than MetricRetention regardless
// of their environment's status, bounding how much history accumulates for
// environments that run indefinitely.
func (r *Reaper) metricPrune(ctx context.Context) {
	scanLog := log.WithComponent("reaper.metric-prune")
	cutoff := time.Now().Add(-r.cfg.MetricRetention).Unix()

	pruned, err := r.store.PruneMetricSamplesOlderThan(cutoff)
	if err != nil {
		scanLog.Warn().Err(err).Msg("prune metric samples failed")
		return
	}
	if pruned > 0 {
		scanLog.Info().Int("pruned", pruned).Msg("metric samples pruned")
	}
}

// healthProbe runs the configured health check for every Container Instance
// belonging to a RUNNING environment, via the driver's ProbeHealth. A
// per-environment probe failure is logged and does not stop the scan from
// moving on to the next environment.
func (r *Reaper) healthProbe(ctx context.Context) {
	scanLog := log.WithComponent("reaper.health-probe")

	envs, err := r.store.ListEnvironmentsByStatus(types.StatusRunning)
	if err != nil {
		scanLog.Warn().Err(err).Msg("list running environments failed")
		return
	}

	acted := 0
	for _, env := range envs {
		if acted >= r.cfg.BatchSize {
			break
		}
		if err := r.health.ProbeHealth(ctx, env.ID); err != nil {
			scanLog.Warn().Err(err).Str("environment_id", env.ID).Msg("health probe failed")
			continue
		}
		acted++
	}
}
