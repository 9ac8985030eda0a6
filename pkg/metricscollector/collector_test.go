package metricscollector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/envforge/envforge/pkg/containerdriver"
	"github.com/envforge/envforge/pkg/resourceguard"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

type fakeDriver struct {
	stats map[string]map[string]containerdriver.ContainerStats
}

func (f *fakeDriver) Stats(ctx context.Context, environmentID string) (map[string]containerdriver.ContainerStats, error) {
	return f.stats[environmentID], nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   int
	project string
	samples []*types.MetricSample
}

func (f *fakeNotifier) PublishMetrics(projectID string, samples []*types.MetricSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.project = projectID
	f.samples = samples
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCollector(t *testing.T, driver ContainerStatSource, notifier MetricsNotifier) (*Collector, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	guard, err := resourceguard.New(resourceguard.Config{})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	return New(store, guard, driver, notifier, 50*time.Millisecond), store
}

func TestCollectPersistsContainerSamplesForRunningEnvironments(t *testing.T) {
	driver := &fakeDriver{stats: map[string]map[string]containerdriver.ContainerStats{
		"env-1": {"ci-1": {CPUPercent: 12.5, MemMiB: 128}},
	}}
	notifier := &fakeNotifier{}
	c, store := newTestCollector(t, driver, notifier)

	env := &types.Environment{ID: "env-1", OwnerID: "owner-1", Status: types.StatusRunning}
	if err := store.CreateEnvironment(env); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	c.collect()

	samples, err := store.ListMetricSamplesByEnvironment("env-1", 0)
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples (cpu+memory), got %d", len(samples))
	}

	if notifier.callCount() != 1 {
		t.Errorf("expected one PublishMetrics call, got %d", notifier.callCount())
	}
	if notifier.project != "owner-1" {
		t.Errorf("expected forwarding keyed by owner id, got %q", notifier.project)
	}
}

func TestCollectSkipsNonRunningEnvironments(t *testing.T) {
	driver := &fakeDriver{stats: map[string]map[string]containerdriver.ContainerStats{
		"env-1": {"ci-1": {CPUPercent: 1, MemMiB: 1}},
	}}
	c, store := newTestCollector(t, driver, &fakeNotifier{})

	env := &types.Environment{ID: "env-1", OwnerID: "owner-1", Status: types.StatusStopped}
	if err := store.CreateEnvironment(env); err != nil {
		t.Fatalf("create environment: %v", err)
	}

	c.collect()

	samples, err := store.ListMetricSamplesByEnvironment("env-1", 0)
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("expected no samples for a stopped environment, got %d", len(samples))
	}
}

func TestCollectAmbientPersistsHostSamples(t *testing.T) {
	c, store := newTestCollector(t, &fakeDriver{}, &fakeNotifier{})

	c.collectAmbient()

	samples, err := store.ListMetricSamplesByEnvironment("", 0)
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(samples) != 3 {
		t.Errorf("expected 3 ambient samples (cpu/mem/disk), got %d", len(samples))
	}
}

func TestStartStopRunsAtLeastOneTick(t *testing.T) {
	driver := &fakeDriver{stats: map[string]map[string]containerdriver.ContainerStats{}}
	c, store := newTestCollector(t, driver, &fakeNotifier{})

	c.Start()
	defer c.Stop()
	deadline := time.Now().Add(time.Second)
	for {
		samples, err := store.ListMetricSamplesByEnvironment("", 0)
		if err != nil {
			t.Fatalf("list samples: %v", err)
		}
		if len(samples) > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the collection loop to persist ambient samples after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
