package containerdriver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/network"
	"github.com/envforge/envforge/pkg/portalloc"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// createTimeout bounds how long the driver waits for every container in an
// Environment's group to be created and started.
const createTimeout = 5 * time.Minute

// LogSink receives one captured log line per call. It is satisfied by
// pkg/notifier.Notifier; the driver depends on this narrow interface so it
// never imports the notifier package's transport details.
type LogSink interface {
	PublishLogLine(environmentID, service, line string)
}

// Driver runs one Environment's compose-style document as a group of
// Container Instances on the local containerd engine.
type Driver struct {
	engine    *Engine
	publisher *network.HostPortPublisher
	ports     *portalloc.Allocator
	store     storage.Store
	logs      LogSink
}

// New builds a Driver over an already-connected Engine. logs may be nil, in
// which case container stdio is discarded instead of streamed.
func New(engine *Engine, publisher *network.HostPortPublisher, ports *portalloc.Allocator, store storage.Store, logs LogSink) *Driver {
	return &Driver{engine: engine, publisher: publisher, ports: ports, store: store, logs: logs}
}

// CreateGroup parses template's document, creates one Container Instance per
// service (persisted via the store) and creates (but does not start) each
// underlying container, in dependency order.
func (d *Driver) CreateGroup(ctx context.Context, env *types.Environment, document string) ([]*types.ContainerInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	driverLog := log.WithEnvironmentID(env.ID)

	services, err := ParseDocument(document)
	if err != nil {
		return nil, err
	}

	instances := make([]*types.ContainerInstance, 0, len(services))
	for _, svc := range services {
		instance := &types.ContainerInstance{
			ID:            uuid.NewString(),
			EnvironmentID: env.ID,
			ServiceName:   svc.Name,
			Status:        types.ContainerStarting,
			ContainerPort: svc.ContainerPort,
			CreatedAt:     time.Now(),
		}

		if err := d.engine.PullImage(ctx, svc.Image); err != nil {
			return instances, errdefs.Wrap(errdefs.KindDriverFailed, "pull image for "+svc.Name, err)
		}

		driverContainerID := env.ID + "-" + svc.Name
		if _, err := d.engine.CreateContainer(ctx, ServiceSpec{
			ContainerID: driverContainerID,
			Image:       svc.Image,
			Env:         svc.Env,
			Command:     svc.Command,
			MemoryMiB:   svc.MemoryMiB,
			CPULimit:    svc.CPULimit,
		}); err != nil {
			return instances, errdefs.Wrap(errdefs.KindDriverFailed, "create container for "+svc.Name, err)
		}
		instance.DriverID = driverContainerID

		if err := d.store.CreateContainerInstance(instance); err != nil {
			return instances, fmt.Errorf("persist container instance: %w", err)
		}
		instances = append(instances, instance)
		driverLog.Debug().Str("service", svc.Name).Msg("container created")
	}

	return instances, nil
}

// StartGroup starts every Container Instance belonging to environmentID, in
// the order they were created (which ParseDocument has already topologically
// sorted by depends_on), publishing each one's host port from the
// Environment's Ports map (container-port -> host-port), reserved up front
// by the orchestrator at create time rather than by this call.
func (d *Driver) StartGroup(ctx context.Context, environmentID string) error {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	env, err := d.store.GetEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("get environment: %w", err)
	}

	instances, err := d.store.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("list container instances: %w", err)
	}

	for _, instance := range instances {
		if err := d.engine.StartContainer(ctx, instance.DriverID, d.logCallback(environmentID, instance.ServiceName)); err != nil {
			instance.Status = types.ContainerError
			instance.Error = err.Error()
			d.store.UpdateContainerInstance(instance)
			return errdefs.Wrap(errdefs.KindDriverFailed, "start container "+instance.ServiceName, err)
		}

		instance.Status = types.ContainerRunning
		instance.StartedAt = time.Now()

		if instance.ContainerPort > 0 {
			hostPort, ok := env.Ports[instance.ContainerPort]
			if !ok {
				return errdefs.New(errdefs.KindDriverFailed,
					fmt.Sprintf("no host port reserved for container port %d on service %s", instance.ContainerPort, instance.ServiceName))
			}
			ip, err := d.engine.ContainerIP(ctx, instance.DriverID)
			if err != nil {
				return errdefs.Wrap(errdefs.KindDriverFailed, "resolve container ip for "+instance.ServiceName, err)
			}
			if err := d.publisher.Publish(instance.DriverID, ip, hostPort, instance.ContainerPort, "tcp"); err != nil {
				return errdefs.Wrap(errdefs.KindDriverFailed, "publish port for "+instance.ServiceName, err)
			}
			instance.HostPort = hostPort
		}

		if err := d.store.UpdateContainerInstance(instance); err != nil {
			return fmt.Errorf("persist container instance: %w", err)
		}
	}

	return nil
}

// StopGroup stops every Container Instance belonging to environmentID and
// unpublishes its host port mapping. The underlying port lease is left in
// place: a STOPPED environment still owns its reserved ports so a later
// start republishes the same mapping instead of racing a new reservation.
func (d *Driver) StopGroup(ctx context.Context, environmentID string) error {
	instances, err := d.store.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("list container instances: %w", err)
	}

	for _, instance := range instances {
		if err := d.engine.StopContainer(ctx, instance.DriverID, 30*time.Second); err != nil {
			return errdefs.Wrap(errdefs.KindDriverFailed, "stop container "+instance.ServiceName, err)
		}
		if instance.HostPort > 0 {
			d.publisher.Unpublish(instance.DriverID)
		}
		instance.Status = types.ContainerStopped
		instance.FinishedAt = time.Now()
		if err := d.store.UpdateContainerInstance(instance); err != nil {
			return fmt.Errorf("persist container instance: %w", err)
		}
	}
	return nil
}

// DestroyGroup stops (if running), removes every container belonging to
// environmentID, releases every host port leased to it, and deletes their
// Container Instance records. Idempotent.
func (d *Driver) DestroyGroup(ctx context.Context, environmentID string) error {
	instances, err := d.store.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return fmt.Errorf("list container instances: %w", err)
	}

	for _, instance := range instances {
		if instance.HostPort > 0 {
			d.publisher.Unpublish(instance.DriverID)
		}
		if err := d.engine.DestroyContainer(ctx, instance.DriverID); err != nil {
			return errdefs.Wrap(errdefs.KindDriverFailed, "destroy container "+instance.ServiceName, err)
		}
	}

	if err := d.ports.Release(environmentID); err != nil {
		return fmt.Errorf("release port leases: %w", err)
	}

	return d.store.DeleteContainerInstancesByEnvironment(environmentID)
}

// Status refreshes and returns each Container Instance's live state from
// the engine, persisting any change.
func (d *Driver) Status(ctx context.Context, environmentID string) ([]*types.ContainerInstance, error) {
	instances, err := d.store.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return nil, fmt.Errorf("list container instances: %w", err)
	}

	for _, instance := range instances {
		status, err := d.engine.Status(ctx, instance.DriverID)
		if err != nil {
			continue
		}
		if status != instance.Status {
			instance.Status = status
			d.store.UpdateContainerInstance(instance)
		}
	}
	return instances, nil
}

// Stats samples CPU/memory for every running Container Instance belonging
// to environmentID. Instances without a live task (not yet started, or
// already stopped) are skipped rather than erroring the whole call.
func (d *Driver) Stats(ctx context.Context, environmentID string) (map[string]ContainerStats, error) {
	instances, err := d.store.ListContainerInstancesByEnvironment(environmentID)
	if err != nil {
		return nil, fmt.Errorf("list container instances: %w", err)
	}

	samples := make(map[string]ContainerStats, len(instances))
	for _, instance := range instances {
		if instance.Status != types.ContainerRunning {
			continue
		}
		stats, err := d.engine.Stats(ctx, instance.DriverID)
		if err != nil {
			continue
		}
		samples[instance.ID] = stats
	}
	return samples, nil
}

// logCallback returns the per-line forwarder StartContainer wires up as a
// service's task IO, or nil when no LogSink was configured. It prefixes
// nothing onto the line itself; stream and service identify the source to
// the sink so subscribers can tell stdout from stderr without parsing text.
func (d *Driver) logCallback(environmentID, serviceName string) func(stream, line string) {
	if d.logs == nil {
		return nil
	}
	return func(stream, line string) {
		d.logs.PublishLogLine(environmentID, serviceName+"/"+stream, line)
	}
}
