package iaas

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/envforge/envforge/pkg/archive"
	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// fakeTool writes a shell script standing in for the IaaS binary: init and
// plan succeed silently, apply prints nothing, output prints a fixed JSON
// document, destroy succeeds, and any other subcommand fails.
func fakeTool(t *testing.T, outputsJSON string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-tool")
	script := "#!/bin/sh\n" +
		"case \"$1\" in\n" +
		"  init|plan|apply|destroy) exit 0 ;;\n" +
		"  output) echo '" + outputsJSON + "'; exit 0 ;;\n" +
		"  *) echo \"unknown subcommand: $1\" >&2; exit 1 ;;\n" +
		"esac\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

func failingTool(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "failing-tool")
	script := "#!/bin/sh\necho 'boom: something went wrong' >&2\nexit 1\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write failing tool: %v", err)
	}
	return path
}

func newTestArchives(t *testing.T) *archive.Store {
	t.Helper()
	db, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := archive.New(t.TempDir(), db, nil)
	if err != nil {
		t.Fatalf("archive.New() error = %v", err)
	}
	return store
}

func testEnv() *types.Environment {
	return &types.Environment{
		ID:      "env-1",
		Name:    "my-env",
		OwnerID: "owner-1",
		Infra:   types.InfrastructureAWS,
		Labels:  map[string]string{"team": "platform"},
	}
}

func testTemplate() *types.Template {
	return &types.Template{
		ID:            "tmpl-1",
		IaaSTemplate:  "# env ${environment_id} owned by ${owner_id}, tags: ${tags}",
		IaaSVariables: `{"instance_type":"t3.micro"}`,
	}
}

func TestApplySucceeds(t *testing.T) {
	tool := fakeTool(t, `{"instance_ip":{"value":"10.0.0.5"}}`)
	archives := newTestArchives(t)

	driver, err := New(tool, t.TempDir(), archives)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := driver.Apply(context.Background(), testEnv(), testTemplate())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.ArchiveID == "" {
		t.Error("Apply() should return an archive id")
	}
	if result.Resources["instance_ip"] != "10.0.0.5" {
		t.Errorf("Resources[instance_ip] = %q, want 10.0.0.5", result.Resources["instance_ip"])
	}
}

func TestApplyFailurePropagatesIaaSToolFailed(t *testing.T) {
	tool := failingTool(t)
	archives := newTestArchives(t)

	driver, err := New(tool, t.TempDir(), archives)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = driver.Apply(context.Background(), testEnv(), testTemplate())
	if err == nil {
		t.Fatal("Apply() expected error from failing tool")
	}
	var e *errdefs.Error
	if !errors.As(err, &e) || e.Kind != errdefs.KindIaaSToolFailed {
		t.Fatalf("Apply() expected KindIaaSToolFailed, got %v", err)
	}
}

func TestApplyThenDestroy(t *testing.T) {
	tool := fakeTool(t, `{"instance_ip":{"value":"10.0.0.5"}}`)
	archives := newTestArchives(t)

	driver, err := New(tool, t.TempDir(), archives)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	env := testEnv()
	result, err := driver.Apply(context.Background(), env, testTemplate())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	env.ArchiveID = result.ArchiveID

	if err := driver.Destroy(context.Background(), env); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
}

func TestDestroyWithNoArchiveIsNoop(t *testing.T) {
	tool := fakeTool(t, `{}`)
	archives := newTestArchives(t)

	driver, err := New(tool, t.TempDir(), archives)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := driver.Destroy(context.Background(), testEnv()); err != nil {
		t.Errorf("Destroy() with no archive should be a no-op, got error = %v", err)
	}
}

func TestTailBufferKeepsOnlyLastBytes(t *testing.T) {
	tb := newTailBuffer(8)
	tb.Write([]byte("0123456789"))
	if got := tb.String(); got != "23456789" {
		t.Errorf("tailBuffer.String() = %q, want %q", got, "23456789")
	}
}
