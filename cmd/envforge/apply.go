package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/envforge/envforge/pkg/config"
	"github.com/envforge/envforge/pkg/providerhooks"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/template"
	"github.com/envforge/envforge/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update a Template from a YAML manifest",
	Long: `Apply reads a Template manifest from a YAML file and persists it to
the orchestration core's store, validating it exactly as the
create-environment request path does before any Environment can reference
it. Re-applying a manifest with the same id updates the existing Template
in place.

Example:
  envforge apply -f postgres-template.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "template manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

// templateManifest is the on-disk YAML shape a Template is authored in. It
// mirrors types.Template's fields rather than embedding the type directly
// so the manifest format stays decoupled from storage layout.
type templateManifest struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Document      string            `yaml:"document"`
	IaaSTemplate  string            `yaml:"iaasTemplate"`
	IaaSVariables string            `yaml:"iaasVariables"`
	ExposedPorts  []int             `yaml:"exposedPorts"`
	MemoryMiB     int64             `yaml:"memoryMiB"`
	CPULimit      float64           `yaml:"cpuLimit"`
	Infra         string            `yaml:"infra"`
	Region        string            `yaml:"region"`
	Visibility    string            `yaml:"visibility"`
	OwnerID       string            `yaml:"ownerId"`
	Labels        map[string]string `yaml:"labels"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m templateManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest %s: %w", filename, err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	hooks := providerhooks.NewRegistry()
	hooks.Register(types.InfrastructureAWS, providerhooks.NewAWSHooks(""))
	hooks.Register(types.InfrastructureAzure, providerhooks.NewAzureHooks(""))
	hooks.Register(types.InfrastructureGCP, providerhooks.NewGCPHooks(""))
	hooks.Register(types.InfrastructureHybrid, providerhooks.NewHybridHooks())

	tmpl := manifestToTemplate(m)
	if err := template.Validate(tmpl, hooks); err != nil {
		return fmt.Errorf("validate template: %w", err)
	}

	now := time.Now()
	if existing, err := store.GetTemplate(tmpl.ID); err == nil {
		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = now
		if err := store.UpdateTemplate(tmpl); err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		fmt.Printf("template %q (%s) updated\n", tmpl.Name, tmpl.ID)
		return nil
	}

	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if err := store.CreateTemplate(tmpl); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	fmt.Printf("template %q (%s) created\n", tmpl.Name, tmpl.ID)
	return nil
}

func manifestToTemplate(m templateManifest) *types.Template {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	infra := types.InfrastructureLocal
	if m.Infra != "" {
		infra = types.InfrastructureKind(m.Infra)
	}
	visibility := types.VisibilityPrivate
	if m.Visibility != "" {
		visibility = types.Visibility(m.Visibility)
	}
	return &types.Template{
		ID:            id,
		Name:          m.Name,
		Document:      m.Document,
		IaaSTemplate:  m.IaaSTemplate,
		IaaSVariables: m.IaaSVariables,
		ExposedPorts:  m.ExposedPorts,
		MemoryMiB:     m.MemoryMiB,
		CPULimit:      m.CPULimit,
		Infra:         infra,
		Region:        m.Region,
		Visibility:    visibility,
		OwnerID:       m.OwnerID,
		Labels:        m.Labels,
	}
}
