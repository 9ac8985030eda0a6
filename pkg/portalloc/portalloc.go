// Package portalloc hands out host ports from a configured range and
// persists the lease so a restarted orchestrator does not hand out a port
// that is still bound to a running environment.
package portalloc

import (
	"fmt"
	"sync"
	"time"

	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// Allocator reserves and releases host ports in [low, high], lowest-free
// first, and keeps the in-memory free set consistent with persisted leases.
type Allocator struct {
	mu    sync.Mutex
	low   int
	high  int
	taken map[int]string // hostPort -> environmentID
	store storage.Store
}

// New builds an Allocator over [low, high] and loads existing leases from
// store so previously reserved ports stay reserved across a restart.
func New(store storage.Store, low, high int) (*Allocator, error) {
	if low <= 0 || high <= 0 || low > high {
		return nil, fmt.Errorf("invalid port range %d-%d", low, high)
	}
	a := &Allocator{low: low, high: high, taken: make(map[int]string), store: store}

	leases, err := store.ListPortLeases()
	if err != nil {
		return nil, fmt.Errorf("load port leases: %w", err)
	}
	for _, l := range leases {
		a.taken[l.HostPort] = l.EnvironmentID
	}
	return a, nil
}

// Reserve finds the count lowest free ports in range, persists a lease for
// each under environmentID, and returns them in ascending order. It reserves
// synchronously and atomically with respect to other Reserve/Release calls:
// either all count ports are leased or none are (on KindNoFreePorts, every
// lease persisted during this call is rolled back before returning). Callers
// needing ports for an environment should ask for all of them in one call
// rather than one Reserve per port, so a shortage is discovered and reported
// before any partial state is persisted.
func (a *Allocator) Reserve(environmentID string, count int) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if count <= 0 {
		return nil, nil
	}

	var reserved []int
	rollback := func() {
		for _, port := range reserved {
			_ = a.store.DeletePortLease(port)
			delete(a.taken, port)
		}
	}

	for port := a.low; port <= a.high && len(reserved) < count; port++ {
		if _, used := a.taken[port]; used {
			continue
		}
		lease := &types.PortLease{HostPort: port, EnvironmentID: environmentID, ReservedAt: time.Now()}
		if err := a.store.CreatePortLease(lease); err != nil {
			rollback()
			return nil, fmt.Errorf("persist port lease: %w", err)
		}
		a.taken[port] = environmentID
		reserved = append(reserved, port)
	}

	if len(reserved) < count {
		rollback()
		return nil, errdefs.New(errdefs.KindNoFreePorts, fmt.Sprintf("no free ports in range %d-%d", a.low, a.high))
	}
	return reserved, nil
}

// Release frees every port currently leased to environmentID, deleting each
// persisted lease. It is a no-op for an environment holding no leases.
func (a *Allocator) Release(environmentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port, owner := range a.taken {
		if owner != environmentID {
			continue
		}
		if err := a.store.DeletePortLease(port); err != nil {
			return fmt.Errorf("delete port lease: %w", err)
		}
		delete(a.taken, port)
	}
	return nil
}

// InUse reports whether hostPort is currently leased.
func (a *Allocator) InUse(hostPort int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, used := a.taken[hostPort]
	return used
}

// FreeCount returns how many ports remain available in the configured range.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return (a.high - a.low + 1) - len(a.taken)
}
