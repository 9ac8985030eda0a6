// Package iaas drives a cloud infrastructure tool (Terraform-compatible CLI,
// configured via ORCH_IAAS_BIN) over a per-Environment workspace: render,
// init, plan, apply, archive, and restore.
package iaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/envforge/envforge/pkg/archive"
	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/types"
)

// DefaultTotalTimeout bounds the whole render→apply pipeline (or the
// restore→destroy pipeline) if the caller's context carries no deadline.
const DefaultTotalTimeout = 30 * time.Minute

// maxOutputTail is how much of a subprocess's combined stdout/stderr is
// kept and surfaced in an IAAS_TOOL_FAILED error.
const maxOutputTail = 64 * 1024

// Driver renders, applies, and destroys a Template's IaaS workspace for one
// Environment at a time.
type Driver struct {
	bin          string
	workspaceDir string
	archives     *archive.Store
}

// New builds a Driver invoking bin (e.g. "terraform", "tofu") as a
// subprocess, staging workspaces under workspaceRoot.
func New(bin, workspaceRoot string, archives *archive.Store) (*Driver, error) {
	if bin == "" {
		bin = "terraform"
	}
	if workspaceRoot == "" {
		workspaceRoot = "/var/lib/envforge/iaas-workspaces"
	}
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create iaas workspace root: %w", err)
	}
	return &Driver{bin: bin, workspaceDir: workspaceRoot, archives: archives}, nil
}

// ApplyResult carries what the Orchestrator needs to persist after a
// successful Apply: the resource map reported by the tool's outputs, and
// the Workspace Archive id the workspace was packaged into.
type ApplyResult struct {
	Resources map[string]string
	ArchiveID string
}

// Apply renders env's workspace from template, runs init/plan/apply, reads
// the tool's outputs into a resource map, and archives the workspace. If
// env already has an ArchiveID (a prior apply), the existing archive is
// restored first so state carries forward; the same archive id is reused
// (Replace, not Create).
func (d *Driver) Apply(ctx context.Context, env *types.Environment, tmpl *types.Template) (*ApplyResult, error) {
	ctx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	dir := d.dirFor(env.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if env.ArchiveID != "" {
		if err := d.archives.Restore(env.ArchiveID, dir); err != nil {
			return nil, errdefs.Wrap(errdefs.KindIaaSToolFailed, "restore prior workspace", err)
		}
	}

	if err := render(dir, env, tmpl); err != nil {
		return nil, errdefs.Wrap(errdefs.KindIaaSToolFailed, "render workspace", err)
	}

	if err := d.runStep(ctx, dir, "init", "-input=false"); err != nil {
		return nil, err
	}
	if err := d.runStep(ctx, dir, "plan", "-input=false", "-out=plan.out", "-var-file="+varsFileName); err != nil {
		return nil, err
	}
	if err := d.runStep(ctx, dir, "apply", "-input=false", "-auto-approve", "plan.out"); err != nil {
		return nil, err
	}

	resources, err := d.readOutputs(ctx, dir)
	if err != nil {
		return nil, err
	}

	var a *types.WorkspaceArchive
	if env.ArchiveID != "" {
		a, err = d.archives.Replace(env.ArchiveID, dir)
	} else {
		a, err = d.archives.Create(env.ID, dir)
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindIaaSToolFailed, "archive workspace", err)
	}

	return &ApplyResult{Resources: resources, ArchiveID: a.ID}, nil
}

// Destroy restores env's archived workspace, runs destroy, and on success
// deletes the archive (it has no further referent).
func (d *Driver) Destroy(ctx context.Context, env *types.Environment) error {
	ctx, cancel := withDefaultDeadline(ctx)
	defer cancel()

	if env.ArchiveID == "" {
		return nil
	}

	dir := d.dirFor(env.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := d.archives.Restore(env.ArchiveID, dir); err != nil {
		return errdefs.Wrap(errdefs.KindIaaSToolFailed, "restore workspace for destroy", err)
	}

	if err := d.runStep(ctx, dir, "destroy", "-input=false", "-auto-approve", "-var-file="+varsFileName); err != nil {
		return err
	}

	return d.archives.Delete(env.ArchiveID)
}

func (d *Driver) dirFor(environmentID string) string {
	return filepath.Join(d.workspaceDir, environmentID)
}

func (d *Driver) runStep(ctx context.Context, dir, step string, args ...string) error {
	cmdArgs := append([]string{step}, args...)
	cmd := exec.CommandContext(ctx, d.bin, cmdArgs...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TF_IN_AUTOMATION=true", "TF_CLI_ARGS=-no-color")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tail := newTailBuffer(maxOutputTail)
	cmd.Stdout = tail
	cmd.Stderr = tail

	stepLog := log.WithComponent("iaas")
	stepLog.Debug().Str("step", step).Str("dir", dir).Msg("running iaas step")

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if cmd.Process != nil {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	return errdefs.WithDetail(errdefs.KindIaaSToolFailed,
		fmt.Sprintf("iaas step %q failed", step), tail.String())
}

// readOutputs runs "output -json" and flattens Terraform's {name:
// {value,...}} shape into name -> string.
func (d *Driver) readOutputs(ctx context.Context, dir string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, d.bin, "output", "-json")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TF_IN_AUTOMATION=true", "TF_CLI_ARGS=-no-color")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	tail := newTailBuffer(maxOutputTail)
	cmd.Stderr = tail

	if err := cmd.Run(); err != nil {
		return nil, errdefs.WithDetail(errdefs.KindIaaSToolFailed, "read outputs", tail.String())
	}

	var raw map[string]struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, errdefs.Wrap(errdefs.KindIaaSToolFailed, "parse outputs json", err)
	}

	resources := make(map[string]string, len(raw))
	for name, out := range raw {
		var s string
		if err := json.Unmarshal(out.Value, &s); err == nil {
			resources[name] = s
			continue
		}
		resources[name] = string(out.Value)
	}
	return resources, nil
}

func withDefaultDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTotalTimeout)
}

// tailBuffer keeps only the last `limit` bytes written to it.
type tailBuffer struct {
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
