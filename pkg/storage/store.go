package storage

import (
	"github.com/envforge/envforge/pkg/types"
)

// Store defines the interface for orchestration core state persistence.
// It is implemented by BoltStore; callers depend only on this interface so
// tests can substitute an in-memory fake.
type Store interface {
	// Templates
	CreateTemplate(t *types.Template) error
	GetTemplate(id string) (*types.Template, error)
	ListTemplates() ([]*types.Template, error)
	ListTemplatesByOwner(ownerID string) ([]*types.Template, error)
	UpdateTemplate(t *types.Template) error
	DeleteTemplate(id string) error

	// Environments
	CreateEnvironment(e *types.Environment) error
	GetEnvironment(id string) (*types.Environment, error)
	ListEnvironments() ([]*types.Environment, error)
	ListEnvironmentsByOwner(ownerID string) ([]*types.Environment, error)
	ListEnvironmentsByStatus(status types.EnvironmentStatus) ([]*types.Environment, error)
	ListEnvironmentsByTemplate(templateID string) ([]*types.Environment, error)
	// UpdateEnvironment performs an optimistic-concurrency update: it fails
	// with errdefs.KindConflict unless e.Version matches the stored version,
	// then persists e with Version incremented.
	UpdateEnvironment(e *types.Environment) error
	DeleteEnvironment(id string) error

	// Container Instances
	CreateContainerInstance(c *types.ContainerInstance) error
	GetContainerInstance(id string) (*types.ContainerInstance, error)
	ListContainerInstancesByEnvironment(environmentID string) ([]*types.ContainerInstance, error)
	UpdateContainerInstance(c *types.ContainerInstance) error
	DeleteContainerInstance(id string) error
	DeleteContainerInstancesByEnvironment(environmentID string) error

	// Workspace Archives
	CreateWorkspaceArchive(a *types.WorkspaceArchive) error
	GetWorkspaceArchive(id string) (*types.WorkspaceArchive, error)
	GetWorkspaceArchiveByEnvironment(environmentID string) (*types.WorkspaceArchive, error)
	ListWorkspaceArchivesOlderThan(cutoffUnix int64) ([]*types.WorkspaceArchive, error)
	UpdateWorkspaceArchive(a *types.WorkspaceArchive) error
	DeleteWorkspaceArchive(id string) error

	// Metric Samples (append-only; pruned by the reaper)
	AppendMetricSample(s *types.MetricSample) error
	ListMetricSamplesByEnvironment(environmentID string, since int64) ([]*types.MetricSample, error)
	PruneMetricSamplesOlderThan(cutoffUnix int64) (int, error)

	// Port Leases
	CreatePortLease(l *types.PortLease) error
	GetPortLease(hostPort int) (*types.PortLease, error)
	ListPortLeases() ([]*types.PortLease, error)
	DeletePortLease(hostPort int) error

	// Utility
	Close() error
}
