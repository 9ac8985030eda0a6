// Package metricscollector polls running Environments' container resource
// usage and the host's ambient utilization on a schedule, persists every
// sample through the repository, and forwards container samples to the
// Notifier so subscribed clients see near-live numbers.
package metricscollector

import (
	"context"
	"time"

	"github.com/envforge/envforge/pkg/containerdriver"
	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/resourceguard"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// DefaultInterval matches the scheduling model's near-live polling cadence.
const DefaultInterval = 30 * time.Second

// ContainerStatSource is the narrow slice of pkg/containerdriver.Driver this
// package depends on, kept as an interface so tests can substitute a fake
// instead of a real containerd engine.
type ContainerStatSource interface {
	Stats(ctx context.Context, environmentID string) (map[string]containerdriver.ContainerStats, error)
}

// MetricsNotifier is the narrow slice of pkg/notifier.Notifier this package
// depends on.
type MetricsNotifier interface {
	PublishMetrics(projectID string, samples []*types.MetricSample)
}

// Collector runs the polling loop. The zero value is not usable; build one
// with New.
type Collector struct {
	store    storage.Store
	guard    *resourceguard.Guard
	driver   ContainerStatSource
	notifier MetricsNotifier
	interval time.Duration
	stopCh   chan struct{}
}

// New builds a Collector polling at interval (DefaultInterval if <= 0).
func New(store storage.Store, guard *resourceguard.Guard, driver ContainerStatSource, notifier MetricsNotifier, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		store:    store,
		guard:    guard,
		driver:   driver,
		notifier: notifier,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the collection loop, sampling once immediately before the
// first tick. Because collect runs synchronously inside the same select
// loop as the ticker, a tick is never started while the previous one is
// still persisting samples: a collection that outruns the interval simply
// skips whichever ticks land during it, rather than overlapping or queuing
// unboundedly.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx := context.Background()
	collectorLog := log.WithComponent("metricscollector")

	c.collectAmbient()

	envs, err := c.store.ListEnvironmentsByStatus(types.StatusRunning)
	if err != nil {
		collectorLog.Warn().Err(err).Msg("list running environments failed")
		return
	}

	for _, env := range envs {
		c.collectEnvironment(ctx, env)
	}
}

// collectAmbient persists a single host-wide reading per tick. It has no
// owning Environment, so it is neither forwarded to the Notifier (there is
// no single project it belongs to) nor given a ContainerID.
func (c *Collector) collectAmbient() {
	snap := c.guard.Snapshot()
	now := time.Now()
	samples := []*types.MetricSample{
		{Kind: types.MetricCPU, Name: "host_cpu_percent", Value: snap.CPUPercent, Unit: "percent", Timestamp: now},
		{Kind: types.MetricMemory, Name: "host_memory_percent", Value: snap.MemPercent, Unit: "percent", Timestamp: now},
		{Kind: types.MetricDisk, Name: "host_disk_percent", Value: snap.DiskPercent, Unit: "percent", Timestamp: now},
	}
	for _, s := range samples {
		if err := c.store.AppendMetricSample(s); err != nil {
			log.WithComponent("metricscollector").Warn().Err(err).Msg("persist ambient sample failed")
		}
	}
}

func (c *Collector) collectEnvironment(ctx context.Context, env *types.Environment) {
	stats, err := c.driver.Stats(ctx, env.ID)
	if err != nil || len(stats) == 0 {
		return
	}

	now := time.Now()
	samples := make([]*types.MetricSample, 0, len(stats)*2)
	for containerID, s := range stats {
		samples = append(samples,
			&types.MetricSample{
				EnvironmentID: env.ID, ContainerID: containerID,
				Kind: types.MetricCPU, Name: "cpu_usage_percent",
				Value: s.CPUPercent, Unit: "percent", Timestamp: now,
			},
			&types.MetricSample{
				EnvironmentID: env.ID, ContainerID: containerID,
				Kind: types.MetricMemory, Name: "memory_usage_mib",
				Value: float64(s.MemMiB), Unit: "mib", Timestamp: now,
			},
		)
	}

	for _, s := range samples {
		if err := c.store.AppendMetricSample(s); err != nil {
			log.WithEnvironmentID(env.ID).Warn().Err(err).Msg("persist metric sample failed")
		}
	}

	if c.notifier != nil && env.OwnerID != "" {
		c.notifier.PublishMetrics(env.OwnerID, samples)
	}
}
