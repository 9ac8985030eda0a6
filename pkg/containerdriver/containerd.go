// Package containerdriver runs Container Instances on the local containerd
// engine: one container per compose-style service, grouped under an
// Environment's namespace.
package containerdriver

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/envforge/envforge/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace envforge runs its
	// containers under, isolating them from any other containerd tenant on
	// the same host.
	DefaultNamespace = "envforge"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Engine wraps a containerd client scoped to DefaultNamespace.
type Engine struct {
	client    *containerd.Client
	namespace string
}

// NewEngine dials containerd at socketPath (DefaultSocketPath if empty).
func NewEngine(socketPath string) (*Engine, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &Engine{client: client, namespace: DefaultNamespace}, nil
}

// Close closes the containerd client connection.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// PullImage pulls imageRef, unpacking it for the default snapshotter.
func (e *Engine) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)
	if _, err := e.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}
	return nil
}

// ServiceSpec describes one compose-style service to run as a
// ContainerInstance.
type ServiceSpec struct {
	ContainerID string
	Image       string
	Env         []string
	Command     []string
	MemoryMiB   int64
	CPULimit    float64
	Mounts      []specs.Mount
}

// CreateContainer creates (but does not start) a container for spec.
func (e *Engine) CreateContainer(ctx context.Context, spec ServiceSpec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	image, err := e.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", fmt.Errorf("get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}

	if spec.CPULimit > 0 {
		// CPU shares: relative weight (1024 = 1 core). CPU quota: period =
		// 100ms, quota = CPULimit * period.
		shares := uint64(spec.CPULimit * 1024)
		quota := int64(spec.CPULimit * 100000)
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if spec.MemoryMiB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryMiB)*1024*1024))
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(spec.Mounts))
	}

	ctrdContainer, err := e.client.NewContainer(
		ctx,
		spec.ContainerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ContainerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	return ctrdContainer.ID(), nil
}

// StartContainer creates a task for containerID and starts it. When
// onLogLine is non-nil, the task's stdout and stderr are captured and each
// complete line is delivered as (stream, line) with stream one of "stdout"
// or "stderr"; a nil onLogLine falls back to cio.NullIO, discarding output
// entirely.
func (e *Engine) StartContainer(ctx context.Context, containerID string, onLogLine func(stream, line string)) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}

	creator := cio.NullIO
	if onLogLine != nil {
		stdout := newLineWriter(func(line string) { onLogLine("stdout", line) })
		stderr := newLineWriter(func(line string) { onLogLine("stderr", line) })
		creator = cio.NewCreator(cio.WithStreams(nil, stdout, stderr))
	}

	task, err := c.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	return nil
}

// StopContainer sends SIGTERM and waits up to timeout before SIGKILL.
func (e *Engine) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil // not running
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// DestroyContainer stops (if running) and removes containerID and its
// snapshot. It is idempotent: a missing container is not an error.
func (e *Engine) DestroyContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}

	if err := e.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		return fmt.Errorf("stop before delete: %w", err)
	}

	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	return nil
}

// Status returns the current ContainerState for containerID.
func (e *Engine) Status(ctx context.Context, containerID string) (types.ContainerState, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, containerID)
	if err != nil {
		return types.ContainerError, fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return types.ContainerStarting, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ContainerError, fmt.Errorf("task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return types.ContainerRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return types.ContainerStopped, nil
		}
		return types.ContainerError, nil
	default:
		return types.ContainerStarting, nil
	}
}

// IsRunning reports whether containerID is currently in the Running state.
func (e *Engine) IsRunning(ctx context.Context, containerID string) bool {
	status, err := e.Status(ctx, containerID)
	return err == nil && status == types.ContainerRunning
}

// ListContainers returns all container ids in the envforge namespace.
func (e *Engine) ListContainers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	containers, err := e.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

// ContainerIP resolves containerID's eth0 address via nsenter into its
// network namespace, used to target host-port publishing rules at it.
func (e *Engine) ContainerIP(ctx context.Context, containerID string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("get task: %w", err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("task status: %w", err)
	}
	if status.Status != containerd.Running {
		return "", fmt.Errorf("container is not running")
	}

	pid := task.Pid()
	if pid == 0 {
		return "", fmt.Errorf("container task has no pid")
	}

	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("read container ip: %w (output: %s)", err, string(output))
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(parts[1])
		if err != nil {
			return "", fmt.Errorf("parse container ip %s: %w", parts[1], err)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no ip address found for container")
}

// ContainerStats is one instant CPU/memory reading for a running container.
type ContainerStats struct {
	CPUPercent float64
	MemMiB     int64
}

// Stats samples containerID's task process via its host pid, the same way
// ContainerIP resolves it, rather than decoding cgroup metrics directly: one
// gopsutil process handle gives both CPU percent and resident memory.
// Returns an error if the container has no running task.
func (e *Engine) Stats(ctx context.Context, containerID string) (ContainerStats, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	c, err := e.client.LoadContainer(ctx, containerID)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("load container %s: %w", containerID, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("get task: %w", err)
	}

	pid := task.Pid()
	if pid == 0 {
		return ContainerStats{}, fmt.Errorf("container task has no pid")
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ContainerStats{}, fmt.Errorf("open process %d: %w", pid, err)
	}

	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("sample cpu for pid %d: %w", pid, err)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("sample memory for pid %d: %w", pid, err)
	}

	return ContainerStats{
		CPUPercent: cpuPct,
		MemMiB:     int64(memInfo.RSS / (1024 * 1024)),
	}, nil
}
