package iaas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/envforge/envforge/pkg/types"
)

const (
	mainFileName = "main.tf"
	varsFileName = "terraform.tfvars.json"
)

// render substitutes the well-known placeholders (environment_id,
// environment_name, owner_id, and a sorted tag set) into template's IaaS
// module text and writes it, plus a computed tfvars file, into dir.
func render(dir string, env *types.Environment, tmpl *types.Template) error {
	replacer := strings.NewReplacer(
		"${environment_id}", env.ID,
		"${environment_name}", env.Name,
		"${owner_id}", env.OwnerID,
		"${tags}", tagSet(env.Labels),
	)
	rendered := replacer.Replace(tmpl.IaaSTemplate)

	if err := os.WriteFile(filepath.Join(dir, mainFileName), []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mainFileName, err)
	}

	vars, err := mergedVariables(tmpl.IaaSVariables, env)
	if err != nil {
		return fmt.Errorf("build variables: %w", err)
	}
	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, varsFileName), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", varsFileName, err)
	}
	return nil
}

// mergedVariables decodes template.IaaSVariables (a JSON object of default
// variable values) and overlays the runtime identifiers every module is
// expected to declare.
func mergedVariables(defaultsJSON string, env *types.Environment) (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if defaultsJSON != "" {
		if err := json.Unmarshal([]byte(defaultsJSON), &vars); err != nil {
			return nil, fmt.Errorf("parse default variables: %w", err)
		}
	}
	vars["environment_id"] = env.ID
	vars["environment_name"] = env.Name
	vars["owner_id"] = env.OwnerID
	return vars, nil
}

func tagSet(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}
