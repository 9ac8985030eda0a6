// Package resourceguard samples host CPU, memory and disk utilization and
// admits or rejects new environment placements against configured caps, so
// the orchestrator never starts a container on a host that is already
// saturated.
package resourceguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/log"
)

// Snapshot is the most recently sampled host utilization.
type Snapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
	MemTotalMiB int64
	MemUsedMiB  int64
	SampledAt   time.Time
}

// Guard polls host utilization on an interval and caches the latest
// Snapshot for cheap admission checks, alongside a running tally of memory
// committed to non-DESTROYED environments that Admit itself maintains
// synchronously, independent of the poll cadence.
type Guard struct {
	mu           sync.RWMutex
	latest       Snapshot
	cpuCapPct    float64
	memCapPct    float64
	diskCapPct   float64
	diskPath     string
	pollInterval time.Duration
	committedMiB int64
}

// Config holds Guard's admission caps and sampling parameters.
type Config struct {
	CPUCapPct    float64
	MemCapPct    float64
	DiskCapPct   float64
	DiskPath     string
	PollInterval time.Duration
}

// New builds a Guard and takes one synchronous sample so the first
// admission check does not race an empty Snapshot.
func New(cfg Config) (*Guard, error) {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	g := &Guard{
		cpuCapPct:    cfg.CPUCapPct,
		memCapPct:    cfg.MemCapPct,
		diskCapPct:   cfg.DiskCapPct,
		diskPath:     cfg.DiskPath,
		pollInterval: cfg.PollInterval,
	}
	if err := g.sample(); err != nil {
		return nil, fmt.Errorf("initial resource sample: %w", err)
	}
	return g, nil
}

// Run polls host utilization every PollInterval until ctx is canceled.
func (g *Guard) Run(ctx context.Context) {
	guardLog := log.WithComponent("resourceguard")
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.sample(); err != nil {
				guardLog.Warn().Err(err).Msg("resource sample failed")
			}
		}
	}
}

func (g *Guard) sample() error {
	cpuPct, err := cpu.Percent(0, false)
	if err != nil {
		return fmt.Errorf("sample cpu: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("sample memory: %w", err)
	}
	du, err := disk.Usage(g.diskPath)
	if err != nil {
		return fmt.Errorf("sample disk: %w", err)
	}

	var cpuVal float64
	if len(cpuPct) > 0 {
		cpuVal = cpuPct[0]
	}

	g.mu.Lock()
	g.latest = Snapshot{
		CPUPercent:  cpuVal,
		MemPercent:  vm.UsedPercent,
		DiskPercent: du.UsedPercent,
		MemTotalMiB: int64(vm.Total / (1024 * 1024)),
		MemUsedMiB:  int64(vm.Used / (1024 * 1024)),
		SampledAt:   time.Now(),
	}
	g.mu.Unlock()
	return nil
}

// Snapshot returns the most recently sampled host utilization.
func (g *Guard) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latest
}

// Admit rejects placement with errdefs.KindInsufficientResources when
// accepting requestedMemMiB more memory usage would put the host over any
// configured cap, or when a cap is already exceeded outright. committedMiB
// (the sum of memory already admitted to non-DESTROYED environments since
// the process started, regardless of what the last OS poll observed) is
// folded into the projection and, on a successful admission, incremented
// atomically with the check so two concurrent callers cannot both pass
// against the same stale snapshot. Call Release once the admitted
// environment is torn down.
func (g *Guard) Admit(requestedMemMiB int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.latest

	if g.cpuCapPct > 0 && snap.CPUPercent >= g.cpuCapPct {
		return errdefs.New(errdefs.KindInsufficientResources,
			fmt.Sprintf("host cpu at %.1f%%, cap %.1f%%", snap.CPUPercent, g.cpuCapPct))
	}
	if g.diskCapPct > 0 && snap.DiskPercent >= g.diskCapPct {
		return errdefs.New(errdefs.KindInsufficientResources,
			fmt.Sprintf("host disk at %.1f%%, cap %.1f%%", snap.DiskPercent, g.diskCapPct))
	}
	if g.memCapPct > 0 && snap.MemTotalMiB > 0 {
		projected := float64(snap.MemUsedMiB+g.committedMiB+requestedMemMiB) / float64(snap.MemTotalMiB) * 100
		if projected >= g.memCapPct {
			return errdefs.New(errdefs.KindInsufficientResources,
				fmt.Sprintf("projected memory %.1f%% would exceed cap %.1f%%", projected, g.memCapPct))
		}
	}

	g.committedMiB += requestedMemMiB
	return nil
}

// Release gives back memMiB previously admitted by Admit, once the
// environment it was committed to reaches DESTROYED.
func (g *Guard) Release(memMiB int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.committedMiB -= memMiB
	if g.committedMiB < 0 {
		g.committedMiB = 0
	}
}

// CommittedMiB returns the current running total of memory admitted to
// non-DESTROYED environments.
func (g *Guard) CommittedMiB() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.committedMiB
}
