// Package types defines the value records shared across the orchestration
// core. Entities are plain structs keyed by id; relationships (environment
// to its containers, template to its environments) are resolved through the
// repository, never through pointer cycles.
package types

import "time"

// InfrastructureKind selects which backend provisions an Environment.
type InfrastructureKind string

const (
	InfrastructureLocal  InfrastructureKind = "LOCAL"
	InfrastructureAWS    InfrastructureKind = "AWS"
	InfrastructureAzure  InfrastructureKind = "AZURE"
	InfrastructureGCP    InfrastructureKind = "GCP"
	InfrastructureHybrid InfrastructureKind = "HYBRID"
)

// Visibility controls who may reference a Template.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Template is an immutable recipe for building an Environment.
type Template struct {
	ID          string
	Name        string
	Document    string // compose-style document (services/networks/volumes)
	IaaSTemplate string
	IaaSVariables string
	ExposedPorts []int
	MemoryMiB    int64
	CPULimit     float64
	Infra        InfrastructureKind
	Region       string
	Visibility   Visibility
	OwnerID      string // only meaningful when Visibility == PRIVATE
	Labels       map[string]string
	RestartPolicy *RestartPolicy
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnvironmentStatus is a state in the orchestrator's state machine (§4.6).
type EnvironmentStatus string

const (
	StatusCreating  EnvironmentStatus = "CREATING"
	StatusStarting  EnvironmentStatus = "STARTING"
	StatusRunning   EnvironmentStatus = "RUNNING"
	StatusStopping  EnvironmentStatus = "STOPPING"
	StatusStopped   EnvironmentStatus = "STOPPED"
	StatusDeleting  EnvironmentStatus = "DELETING"
	StatusDestroyed EnvironmentStatus = "DESTROYED"
	StatusFailed    EnvironmentStatus = "FAILED"
	StatusError     EnvironmentStatus = "ERROR"
)

// Environment is a running or stopped instance of a Template, owned by a
// single user.
type Environment struct {
	ID         string
	Name       string
	TemplateID string
	OwnerID    string
	Status     EnvironmentStatus
	Infra      InfrastructureKind

	ArchiveID string // Workspace Archive id, empty unless Infra != LOCAL

	// Ports maps container-port -> host-port for this environment.
	Ports map[int]int
	// Resources maps a cloud resource kind (e.g. "vpc", "instance") to the
	// opaque id the IaaS tool reported for it.
	Resources map[string]string

	Labels        map[string]string
	AutoStopHours float64
	Reason        string // set when Status is FAILED or ERROR
	// CommittedMemoryMiB is the template MemoryMiB admitted for this
	// environment at create time; released back to the resource guard once
	// the environment reaches DESTROYED.
	CommittedMemoryMiB int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastAccessed       time.Time
	Version            int64 // optimistic concurrency
}

// ContainerState is the lifecycle state of a single Container Instance.
type ContainerState string

const (
	ContainerStarting  ContainerState = "STARTING"
	ContainerRunning   ContainerState = "RUNNING"
	ContainerStopped   ContainerState = "STOPPED"
	ContainerError     ContainerState = "ERROR"
	ContainerDestroyed ContainerState = "DESTROYED"
)

// ContainerInstance is a child of an Environment: one service from the
// compose-style document, running (or not) on the local engine.
type ContainerInstance struct {
	ID            string
	EnvironmentID string
	ServiceName   string
	DriverID      string // engine-assigned container id, empty until started
	Status        ContainerState
	ContainerPort int
	HostPort      int
	HealthURL     string
	HealthStatus  *HealthStatus
	RestartPolicy *RestartPolicy
	LastProbeAt   time.Time
	CreatedAt     time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	ExitCode      int
	Error         string
}

// HealthStatus tracks consecutive health-check outcomes for a container,
// mirroring the probe bookkeeping the health checkers maintain.
type HealthStatus struct {
	Healthy              bool
	Message              string
	CheckedAt            time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// RestartCondition defines when a container should be restarted.
type RestartCondition string

const (
	RestartNever     RestartCondition = "never"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// RestartPolicy defines container restart behavior.
type RestartPolicy struct {
	Condition   RestartCondition
	MaxAttempts int
	Delay       time.Duration
}

// WorkspaceArchive is an opaque, optionally-encrypted blob holding the files
// an IaaS tool needs to apply/destroy one Environment.
type WorkspaceArchive struct {
	ID            string
	EnvironmentID string
	Encrypted     bool
	SizeBytes     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MetricKind categorizes a MetricSample.
type MetricKind string

const (
	MetricCPU     MetricKind = "CPU"
	MetricMemory  MetricKind = "MEMORY"
	MetricDisk    MetricKind = "DISK"
	MetricNetwork MetricKind = "NETWORK"
	MetricCustom  MetricKind = "CUSTOM"
)

// MetricSample is one append-only observation.
type MetricSample struct {
	EnvironmentID string
	ContainerID   string // optional
	Kind          MetricKind
	Name          string
	Value         float64
	Unit          string
	Timestamp     time.Time
}

// PortLease is a durable binding of a host-port to an Environment.
type PortLease struct {
	HostPort      int
	EnvironmentID string
	ReservedAt    time.Time
}
