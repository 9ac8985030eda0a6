// Package providerhooks runs the cloud-specific provisioning steps around
// an IaaS apply/destroy: one Hooks implementation per InfrastructureKind,
// registered by kind in a Registry.
package providerhooks

import (
	"context"
	"fmt"

	"github.com/envforge/envforge/pkg/types"
)

// Hooks is the cloud-kind-specific extension point the Orchestrator calls
// around an IaaS apply/destroy. preProvision/preDestroy failures abort the
// pipeline before the IaaS tool runs; postProvision/postDestroy failures are
// logged but never roll back, since the infrastructure already exists or is
// already gone by the time they run.
type Hooks interface {
	// PreProvision runs before Apply. A non-nil error aborts provisioning
	// before the IaaS tool is invoked.
	PreProvision(ctx context.Context, env *types.Environment) error

	// PostProvision runs after a successful Apply. Its error is logged, not
	// propagated: rolling back a successful apply is destructive and must
	// be an explicit user action (delete).
	PostProvision(ctx context.Context, env *types.Environment) error

	// PreDestroy runs before Destroy. A non-nil error aborts teardown
	// before the IaaS tool is invoked.
	PreDestroy(ctx context.Context, env *types.Environment) error

	// PostDestroy runs after a successful Destroy. Its error is logged,
	// not propagated: the resources are already gone.
	PostDestroy(ctx context.Context, env *types.Environment) error

	// StartResources resumes a stopped cloud Environment's compute (e.g.
	// start an EC2 instance) without re-running apply.
	StartResources(ctx context.Context, env *types.Environment) error

	// StopResources suspends a running cloud Environment's compute.
	StopResources(ctx context.Context, env *types.Environment) error

	// ValidateTemplate reports whether a Template's IaaS module text is
	// well-formed for this kind, without applying it.
	ValidateTemplate(templateText string) bool

	// DefaultVariables returns the variables this kind injects into every
	// apply unless the Template overrides them.
	DefaultVariables() map[string]string
}

// Registry looks up the Hooks implementation for an InfrastructureKind.
type Registry struct {
	hooks map[types.InfrastructureKind]Hooks
}

// NewRegistry builds an empty Registry. Register each supported kind with
// Register before use.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[types.InfrastructureKind]Hooks)}
}

// Register associates kind with an implementation, replacing any existing
// one.
func (r *Registry) Register(kind types.InfrastructureKind, h Hooks) {
	r.hooks[kind] = h
}

// Get returns the Hooks registered for kind.
func (r *Registry) Get(kind types.InfrastructureKind) (Hooks, error) {
	h, ok := r.hooks[kind]
	if !ok {
		return nil, fmt.Errorf("no provider hooks registered for infrastructure kind %q", kind)
	}
	return h, nil
}
