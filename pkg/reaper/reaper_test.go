package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	stopped []string
	deleted []string
	stopErr error
}

func (f *fakeOrchestrator) StopEnvironment(ctx context.Context, environmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, environmentID)
	return nil
}

func (f *fakeOrchestrator) DeleteEnvironment(ctx context.Context, environmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, environmentID)
	return nil
}

func (f *fakeOrchestrator) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeOrchestrator) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeArchiveStore struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeArchiveStore) Delete(archiveID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, archiveID)
	return nil
}

func (f *fakeArchiveStore) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeHealthProber struct {
	mu       sync.Mutex
	probed   []string
	probeErr error
}

func (f *fakeHealthProber) ProbeHealth(ctx context.Context, environmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return f.probeErr
	}
	f.probed = append(f.probed, environmentID)
	return nil
}

func (f *fakeHealthProber) probedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIdleAutoStopStopsEnvironmentsPastTheirOwnThreshold(t *testing.T) {
	store := newTestStore(t)
	orch := &fakeOrchestrator{}
	r := New(store, orch, &fakeArchiveStore{}, nil, Config{})

	idle := &types.Environment{
		ID: "env-idle", Status: types.StatusRunning,
		AutoStopHours: 1,
		LastAccessed:  time.Now().Add(-2 * time.Hour),
	}
	fresh := &types.Environment{
		ID: "env-fresh", Status: types.StatusRunning,
		AutoStopHours: 1,
		LastAccessed:  time.Now(),
	}
	disabled := &types.Environment{
		ID: "env-disabled", Status: types.StatusRunning,
		AutoStopHours: 0,
		LastAccessed:  time.Now().Add(-100 * time.Hour),
	}
	for _, e := range []*types.Environment{idle, fresh, disabled} {
		if err := store.CreateEnvironment(e); err != nil {
			t.Fatalf("create environment: %v", err)
		}
	}

	r.idleAutoStop(context.Background())

	stopped := orch.stoppedIDs()
	if len(stopped) != 1 || stopped[0] != "env-idle" {
		t.Fatalf("expected only env-idle stopped, got %v", stopped)
	}
}

func TestIdleAutoStopRespectsBatchSize(t *testing.T) {
	store := newTestStore(t)
	orch := &fakeOrchestrator{}
	r := New(store, orch, &fakeArchiveStore{}, nil, Config{BatchSize: 1})

	for i := 0; i < 3; i++ {
		env := &types.Environment{
			ID: "env-" + string(rune('a'+i)), Status: types.StatusRunning,
			AutoStopHours: 1,
			LastAccessed:  time.Now().Add(-2 * time.Hour),
		}
		if err := store.CreateEnvironment(env); err != nil {
			t.Fatalf("create environment: %v", err)
		}
	}

	r.idleAutoStop(context.Background())

	if len(orch.stoppedIDs()) != 1 {
		t.Fatalf("expected batch size to cap stops at 1, got %d", len(orch.stoppedIDs()))
	}
}

func TestStaleCleanupForcesStuckTransitionalEnvironmentsToDeleting(t *testing.T) {
	store := newTestStore(t)
	orch := &fakeOrchestrator{}
	r := New(store, orch, &fakeArchiveStore{}, nil, Config{StaleThreshold: time.Hour})

	stuck := &types.Environment{ID: "env-stuck", Status: types.StatusCreating, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	recent := &types.Environment{ID: "env-recent", Status: types.StatusStarting, UpdatedAt: time.Now()}
	for _, e := range []*types.Environment{stuck, recent} {
		if err := store.CreateEnvironment(e); err != nil {
			t.Fatalf("create environment: %v", err)
		}
	}

	r.staleCleanup(context.Background())

	deleted := orch.deletedIDs()
	if len(deleted) != 1 || deleted[0] != "env-stuck" {
		t.Fatalf("expected only env-stuck force-deleted, got %v", deleted)
	}
}

func TestStaleCleanupIgnoresRunningEnvironments(t *testing.T) {
	store := newTestStore(t)
	orch := &fakeOrchestrator{}
	r := New(store, orch, &fakeArchiveStore{}, nil, Config{StaleThreshold: time.Hour})

	running := &types.Environment{ID: "env-running", Status: types.StatusRunning, UpdatedAt: time.Now().Add(-48 * time.Hour)}
	if err := store.CreateEnvironment(running); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	r.staleCleanup(context.Background())

	if len(orch.deletedIDs()) != 0 {
		t.Fatalf("expected a running environment to be left alone, got %v", orch.deletedIDs())
	}
}

func TestArchiveGCDeletesArchivesForMissingOrDestroyedEnvironments(t *testing.T) {
	store := newTestStore(t)
	archives := &fakeArchiveStore{}
	r := New(store, &fakeOrchestrator{}, archives, nil, Config{ArchiveRetention: time.Hour})

	destroyedEnv := &types.Environment{ID: "env-destroyed", Status: types.StatusDestroyed}
	if err := store.CreateEnvironment(destroyedEnv); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	orphanArchive := &types.WorkspaceArchive{ID: "archive-orphan", EnvironmentID: "env-missing", CreatedAt: old, UpdatedAt: old}
	destroyedArchive := &types.WorkspaceArchive{ID: "archive-destroyed", EnvironmentID: "env-destroyed", CreatedAt: old, UpdatedAt: old}
	for _, a := range []*types.WorkspaceArchive{orphanArchive, destroyedArchive} {
		if err := store.CreateWorkspaceArchive(a); err != nil {
			t.Fatalf("create archive: %v", err)
		}
	}

	r.archiveGC(context.Background())

	deleted := archives.deletedIDs()
	if len(deleted) != 2 {
		t.Fatalf("expected both orphan and destroyed-owner archives deleted, got %v", deleted)
	}
}

func TestArchiveGCLeavesArchivesForLiveEnvironments(t *testing.T) {
	store := newTestStore(t)
	archives := &fakeArchiveStore{}
	r := New(store, &fakeOrchestrator{}, archives, nil, Config{ArchiveRetention: time.Hour})

	liveEnv := &types.Environment{ID: "env-live", Status: types.StatusStopped}
	if err := store.CreateEnvironment(liveEnv); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	a := &types.WorkspaceArchive{ID: "archive-live", EnvironmentID: "env-live", CreatedAt: old, UpdatedAt: old}
	if err := store.CreateWorkspaceArchive(a); err != nil {
		t.Fatalf("create archive: %v", err)
	}

	r.archiveGC(context.Background())

	if len(archives.deletedIDs()) != 0 {
		t.Fatalf("expected archive for a live environment to survive, got %v", archives.deletedIDs())
	}
}

func TestArchiveGCLeavesRecentArchivesAlone(t *testing.T) {
	store := newTestStore(t)
	archives := &fakeArchiveStore{}
	r := New(store, &fakeOrchestrator{}, archives, nil, Config{ArchiveRetention: 24 * time.Hour})

	now := time.Now()
	a := &types.WorkspaceArchive{ID: "archive-recent", EnvironmentID: "env-missing", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateWorkspaceArchive(a); err != nil {
		t.Fatalf("create archive: %v", err)
	}

	r.archiveGC(context.Background())

	if len(archives.deletedIDs()) != 0 {
		t.Fatalf("expected an archive younger than the retention window to survive, got %v", archives.deletedIDs())
	}
}

func TestConfigWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.IdleScanInterval != time.Hour {
		t.Errorf("expected 1h idle scan interval default, got %v", cfg.IdleScanInterval)
	}
	if cfg.StaleScanInterval != time.Hour {
		t.Errorf("expected 1h stale scan interval default, got %v", cfg.StaleScanInterval)
	}
	if cfg.ArchiveGCInterval != 24*time.Hour {
		t.Errorf("expected 24h archive gc interval default, got %v", cfg.ArchiveGCInterval)
	}
	if cfg.StaleThreshold != 24*time.Hour {
		t.Errorf("expected 24h stale threshold default, got %v", cfg.StaleThreshold)
	}
	if cfg.ArchiveRetention != 30*24*time.Hour {
		t.Errorf("expected 30d archive retention default, got %v", cfg.ArchiveRetention)
	}
	if cfg.PortLeaseInterval != 24*time.Hour {
		t.Errorf("expected 24h port lease scan interval default, got %v", cfg.PortLeaseInterval)
	}
	if cfg.MetricGCInterval != 24*time.Hour {
		t.Errorf("expected 24h metric gc interval default, got %v", cfg.MetricGCInterval)
	}
	if cfg.MetricRetention != 30*24*time.Hour {
		t.Errorf("expected 30d metric retention default, got %v", cfg.MetricRetention)
	}
	if cfg.HealthProbeInterval != 5*time.Minute {
		t.Errorf("expected 5m health probe interval default, got %v", cfg.HealthProbeInterval)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected batch size default of 100, got %d", cfg.BatchSize)
	}
}

func TestPortLeaseGCReleasesLeasesForMissingOrDestroyedEnvironments(t *testing.T) {
	store := newTestStore(t)
	r := New(store, &fakeOrchestrator{}, &fakeArchiveStore{}, nil, Config{})

	destroyedEnv := &types.Environment{ID: "env-destroyed", Status: types.StatusDestroyed}
	if err := store.CreateEnvironment(destroyedEnv); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	orphan := &types.PortLease{HostPort: 18080, EnvironmentID: "env-missing"}
	destroyed := &types.PortLease{HostPort: 18081, EnvironmentID: "env-destroyed"}
	for _, l := range []*types.PortLease{orphan, destroyed} {
		if err := store.CreatePortLease(l); err != nil {
			t.Fatalf("create port lease: %v", err)
		}
	}

	r.portLeaseGC(context.Background())

	if _, err := store.GetPortLease(18080); err == nil {
		t.Fatal("expected the orphan lease to be released")
	}
	if _, err := store.GetPortLease(18081); err == nil {
		t.Fatal("expected the destroyed-owner lease to be released")
	}
}

func TestPortLeaseGCLeavesLeasesForLiveEnvironments(t *testing.T) {
	store := newTestStore(t)
	r := New(store, &fakeOrchestrator{}, &fakeArchiveStore{}, nil, Config{})

	liveEnv := &types.Environment{ID: "env-live", Status: types.StatusRunning}
	if err := store.CreateEnvironment(liveEnv); err != nil {
		t.Fatalf("create environment: %v", err)
	}
	lease := &types.PortLease{HostPort: 18082, EnvironmentID: "env-live"}
	if err := store.CreatePortLease(lease); err != nil {
		t.Fatalf("create port lease: %v", err)
	}

	r.portLeaseGC(context.Background())

	if _, err := store.GetPortLease(18082); err != nil {
		t.Fatalf("expected the live environment's lease to survive, got %v", err)
	}
}

func TestMetricPruneRemovesSamplesOlderThanRetention(t *testing.T) {
	store := newTestStore(t)
	r := New(store, &fakeOrchestrator{}, &fakeArchiveStore{}, nil, Config{MetricRetention: time.Hour})

	oldTime := time.Now().Add(-48 * time.Hour)
	recentTime := time.Now()
	old := &types.MetricSample{EnvironmentID: "env-1", Timestamp: oldTime}
	recent := &types.MetricSample{EnvironmentID: "env-1", Timestamp: recentTime}
	for _, s := range []*types.MetricSample{old, recent} {
		if err := store.AppendMetricSample(s); err != nil {
			t.Fatalf("append metric sample: %v", err)
		}
	}

	r.metricPrune(context.Background())

	samples, err := store.ListMetricSamplesByEnvironment("env-1", 0)
	if err != nil {
		t.Fatalf("list metric samples: %v", err)
	}
	if len(samples) != 1 || !samples[0].Timestamp.Equal(recentTime) {
		t.Fatalf("expected only the recent sample to survive, got %v", samples)
	}
}

func TestHealthProbeProbesOnlyRunningEnvironments(t *testing.T) {
	store := newTestStore(t)
	prober := &fakeHealthProber{}
	r := New(store, &fakeOrchestrator{}, &fakeArchiveStore{}, prober, Config{})

	running := &types.Environment{ID: "env-running", Status: types.StatusRunning}
	stopped := &types.Environment{ID: "env-stopped", Status: types.StatusStopped}
	for _, e := range []*types.Environment{running, stopped} {
		if err := store.CreateEnvironment(e); err != nil {
			t.Fatalf("create environment: %v", err)
		}
	}

	r.healthProbe(context.Background())

	probed := prober.probedIDs()
	if len(probed) != 1 || probed[0] != "env-running" {
		t.Fatalf("expected only env-running probed, got %v", probed)
	}
}

func TestHealthProbeSkipsOnProberError(t *testing.T) {
	store := newTestStore(t)
	prober := &fakeHealthProber{probeErr: errors.New("probe failed")}
	r := New(store, &fakeOrchestrator{}, &fakeArchiveStore{}, prober, Config{})

	env := &types.Environment{ID: "env-1", Status: types.StatusRunning}
	if err := store.CreateEnvironment(env); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	r.healthProbe(context.Background())

	if len(prober.probedIDs()) != 0 {
		t.Fatalf("expected no recorded probes when the prober errors, got %v", prober.probedIDs())
	}
}

func TestStartStopRunsWithoutPanicking(t *testing.T) {
	store := newTestStore(t)
	r := New(store, &fakeOrchestrator{}, &fakeArchiveStore{}, nil, Config{
		IdleScanInterval:  5 * time.Millisecond,
		StaleScanInterval: 5 * time.Millisecond,
		ArchiveGCInterval: 5 * time.Millisecond,
	})

	r.Start()
	time.Sleep(20 * time.Millisecond)
	r.Stop()
}

func TestIdleAutoStopSkipsOnOrchestratorError(t *testing.T) {
	store := newTestStore(t)
	orch := &fakeOrchestrator{stopErr: errors.New("driver unreachable")}
	r := New(store, orch, &fakeArchiveStore{}, nil, Config{})

	env := &types.Environment{
		ID: "env-1", Status: types.StatusRunning,
		AutoStopHours: 1,
		LastAccessed:  time.Now().Add(-2 * time.Hour),
	}
	if err := store.CreateEnvironment(env); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	r.idleAutoStop(context.Background())

	if len(orch.stoppedIDs()) != 0 {
		t.Fatalf("expected no successful stops when the orchestrator errors, got %v", orch.stoppedIDs())
	}
}
