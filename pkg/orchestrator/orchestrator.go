// Package orchestrator implements the Environment lifecycle state machine:
// admission, provisioning (local containers or cloud IaaS), start/stop,
// and teardown, each mutating operation serialized per environment id and
// run on a bounded worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/iaas"
	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/providerhooks"
	"github.com/envforge/envforge/pkg/resourceguard"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// Notifier is the narrow slice of pkg/notifier the Orchestrator depends on:
// publish a status change for delivery to subscribed clients. Kept as an
// interface here so this package never imports the transport details.
type Notifier interface {
	PublishStatus(env *types.Environment)
}

// ContainerDriver is the narrow slice of pkg/containerdriver the Orchestrator
// depends on, kept as an interface so tests can substitute a fake rather than
// a real containerd socket.
type ContainerDriver interface {
	CreateGroup(ctx context.Context, env *types.Environment, document string) ([]*types.ContainerInstance, error)
	StartGroup(ctx context.Context, environmentID string) error
	StopGroup(ctx context.Context, environmentID string) error
	DestroyGroup(ctx context.Context, environmentID string) error
}

// IaaSDriver is the narrow slice of pkg/iaas the Orchestrator depends on.
type IaaSDriver interface {
	Apply(ctx context.Context, env *types.Environment, tmpl *types.Template) (*iaas.ApplyResult, error)
	Destroy(ctx context.Context, env *types.Environment) error
}

// PortAllocator is the narrow slice of pkg/portalloc the Orchestrator
// depends on to reserve every host port a local Environment's template
// declares synchronously, before its CREATING row is persisted, so
// NO_FREE_PORTS is surfaced at the request boundary rather than discovered
// later inside the worker pool.
type PortAllocator interface {
	Reserve(environmentID string, count int) ([]int, error)
	Release(environmentID string) error
}

// CreateRequest is the input to CreateEnvironment.
type CreateRequest struct {
	Name          string
	TemplateID    string
	OwnerID       string
	Labels        map[string]string
	AutoStopHours float64
}

// Config tunes the Orchestrator's worker pool and admission quota.
type Config struct {
	CoreWorkers             int
	MaxWorkers              int
	QueueSize               int
	MaxEnvironmentsPerOwner int
}

// Orchestrator is the single-process authority over Environment state. On
// create it sequences C2 (admission) -> C1 (ports) -> C3 (local containers)
// or C5+C4 (cloud provider hooks + IaaS) -> C7 (notification); start, stop
// and delete skip admission and port reservation. The provisioning,
// start, stop and teardown work runs on the bounded worker pool under a
// per-environment lock.
type Orchestrator struct {
	store      storage.Store
	guard      *resourceguard.Guard
	driver     ContainerDriver
	iaas       IaaSDriver
	ports      PortAllocator
	hooks      *providerhooks.Registry
	notifier   Notifier
	pool       *WorkerPool
	locks      *keyedLock
	ownerLocks *keyedLock
	maxEnvs    int
}

// New wires an Orchestrator over its dependencies and starts its worker
// pool.
func New(store storage.Store, guard *resourceguard.Guard, driver ContainerDriver, iaasDriver IaaSDriver, ports PortAllocator, hooks *providerhooks.Registry, notifier Notifier, cfg Config) *Orchestrator {
	pool := NewWorkerPool(cfg.CoreWorkers, cfg.MaxWorkers, cfg.QueueSize)
	pool.Start()
	maxEnvs := cfg.MaxEnvironmentsPerOwner
	if maxEnvs <= 0 {
		maxEnvs = 5
	}
	return &Orchestrator{
		store:      store,
		guard:      guard,
		driver:     driver,
		iaas:       iaasDriver,
		ports:      ports,
		hooks:      hooks,
		notifier:   notifier,
		pool:       pool,
		locks:      newKeyedLock(),
		ownerLocks: newKeyedLock(),
		maxEnvs:    maxEnvs,
	}
}

// CreateEnvironment admits req against quota and host resource caps,
// reserves every host port req's template declares, persists a new
// Environment in CREATING, and enqueues provisioning on the worker pool. It
// returns as soon as the record exists; the caller observes the
// RUNNING/FAILED transition via the Notifier or by polling Get.
//
// The quota recheck and the CREATING insert run under req.OwnerID's lock so
// two concurrent creates for the same owner at the quota boundary cannot
// both pass the count check before either has inserted. Port reservation
// and resource admission happen synchronously in the same call, before the
// row is persisted, so NO_FREE_PORTS/QUOTA_EXCEEDED/INSUFFICIENT_RESOURCES
// are all reported at the request boundary rather than discovered later by
// the provisioning worker.
func (o *Orchestrator) CreateEnvironment(ctx context.Context, req CreateRequest) (*types.Environment, error) {
	unlock := o.ownerLocks.Lock(req.OwnerID)
	defer unlock()

	tmpl, err := o.store.GetTemplate(req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}

	count, err := o.countNonDestroyed(req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("count environments: %w", err)
	}
	if count >= o.maxEnvs {
		return nil, errdefs.New(errdefs.KindQuotaExceeded, "owner has reached the maximum number of environments")
	}

	if err := o.guard.Admit(tmpl.MemoryMiB); err != nil {
		return nil, err
	}

	envID := uuid.NewString()
	ports := map[int]int{}
	if tmpl.Infra == types.InfrastructureLocal && len(tmpl.ExposedPorts) > 0 {
		reserved, err := o.ports.Reserve(envID, len(tmpl.ExposedPorts))
		if err != nil {
			o.guard.Release(tmpl.MemoryMiB)
			return nil, err
		}
		for i, containerPort := range tmpl.ExposedPorts {
			ports[containerPort] = reserved[i]
		}
	}

	env := &types.Environment{
		ID:                 envID,
		Name:               req.Name,
		TemplateID:         req.TemplateID,
		OwnerID:            req.OwnerID,
		Status:             types.StatusCreating,
		Infra:              tmpl.Infra,
		Ports:              ports,
		Resources:          map[string]string{},
		Labels:             req.Labels,
		AutoStopHours:      req.AutoStopHours,
		CommittedMemoryMiB: tmpl.MemoryMiB,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
		LastAccessed:       time.Now(),
	}
	if err := o.store.CreateEnvironment(env); err != nil {
		o.guard.Release(tmpl.MemoryMiB)
		if tmpl.Infra == types.InfrastructureLocal && len(tmpl.ExposedPorts) > 0 {
			o.ports.Release(envID)
		}
		return nil, fmt.Errorf("persist environment: %w", err)
	}
	o.notify(env)

	if err := o.pool.Submit(func() { o.provision(env.ID, tmpl) }); err != nil {
		return env, err
	}
	return env, nil
}

// StartEnvironment enqueues a stopped Environment's restart.
func (o *Orchestrator) StartEnvironment(ctx context.Context, environmentID string) error {
	return o.pool.Submit(func() { o.runGuarded(environmentID, types.StatusStarting, o.start) })
}

// StopEnvironment enqueues a running Environment's suspension.
func (o *Orchestrator) StopEnvironment(ctx context.Context, environmentID string) error {
	return o.pool.Submit(func() { o.runGuarded(environmentID, types.StatusStopping, o.stop) })
}

// DeleteEnvironment enqueues teardown. Unlike start/stop, the DELETING
// transition is legal from any non-terminal state, so runGuarded is not
// used here: delete always proceeds once submitted, and once past the
// resources-released checkpoint it always completes to DESTROYED.
func (o *Orchestrator) DeleteEnvironment(ctx context.Context, environmentID string) error {
	return o.pool.Submit(func() { o.delete(environmentID) })
}

// GetEnvironment returns environmentID's current record.
func (o *Orchestrator) GetEnvironment(environmentID string) (*types.Environment, error) {
	return o.store.GetEnvironment(environmentID)
}

// ListEnvironmentsByOwner returns every Environment owned by ownerID,
// DESTROYED ones included.
func (o *Orchestrator) ListEnvironmentsByOwner(ownerID string) ([]*types.Environment, error) {
	return o.store.ListEnvironmentsByOwner(ownerID)
}

func (o *Orchestrator) countNonDestroyed(ownerID string) (int, error) {
	envs, err := o.store.ListEnvironmentsByOwner(ownerID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range envs {
		if e.Status != types.StatusDestroyed {
			count++
		}
	}
	return count, nil
}

func (o *Orchestrator) notify(env *types.Environment) {
	if o.notifier != nil {
		o.notifier.PublishStatus(env)
	}
}

// transition validates and persists a move to `to`, via the store's
// optimistic-concurrency UpdateEnvironment. A conflicting concurrent write
// is not retried: the store's error is returned as-is (the keyed lock makes
// a real conflict rare; it can only come from a stray external writer).
func (o *Orchestrator) transition(environmentID string, to types.EnvironmentStatus, reason string, mutate func(*types.Environment)) (*types.Environment, error) {
	env, err := o.store.GetEnvironment(environmentID)
	if err != nil {
		return nil, fmt.Errorf("get environment: %w", err)
	}
	if !canTransition(env.Status, to) {
		return nil, errdefs.WithDetail(errdefs.KindInvalidState,
			"illegal state transition", string(env.Status)+" -> "+string(to))
	}

	env.Status = to
	env.Reason = reason
	env.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(env)
	}

	if err := o.store.UpdateEnvironment(env); err != nil {
		return nil, err
	}
	o.notify(env)
	return env, nil
}

// runGuarded wraps an operation with the per-environment keyed lock and a
// failure path: any error from fn forces the Environment to ERROR.
func (o *Orchestrator) runGuarded(environmentID string, into types.EnvironmentStatus, fn func(environmentID string) error) {
	unlock := o.locks.Lock(environmentID)
	defer unlock()

	if _, err := o.transition(environmentID, into, "", nil); err != nil {
		log.WithEnvironmentID(environmentID).Warn().Err(err).Msg("transition rejected")
		return
	}

	if err := fn(environmentID); err != nil {
		o.fail(environmentID, err)
	}
}

func (o *Orchestrator) fail(environmentID string, cause error) {
	log.WithEnvironmentID(environmentID).Error().Err(cause).Msg("environment operation failed")
	if _, err := o.transition(environmentID, types.StatusError, cause.Error(), nil); err != nil {
		log.WithEnvironmentID(environmentID).Error().Err(err).Msg("failed to record error state")
	}
}
