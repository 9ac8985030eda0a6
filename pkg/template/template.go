// Package template validates a Template against the invariants that must
// hold before it is ever handed to the orchestrator: numeric ranges on its
// resource defaults, infrastructure-kind consistency, a parseable compose
// document, and (for non-LOCAL kinds) a well-formed IaaS module. It holds
// no state of its own and persists nothing; callers that create or update
// Templates run Validate first and only persist through the repository
// facade on success.
package template

import (
	"fmt"

	"github.com/envforge/envforge/pkg/containerdriver"
	"github.com/envforge/envforge/pkg/errdefs"
	"github.com/envforge/envforge/pkg/providerhooks"
	"github.com/envforge/envforge/pkg/types"
)

const (
	minPort = 1
	maxPort = 65535

	minMemoryMiB = 128
	maxMemoryMiB = 32768

	maxCPULimit = 8.0
)

// Validate checks tmpl's data-model invariants and, when it has one, parses
// its compose-style Document. hooks may be nil, in which case IaaS module
// validation is skipped (useful for LOCAL-only callers that never wire a
// providerhooks.Registry).
func Validate(tmpl *types.Template, hooks *providerhooks.Registry) error {
	if tmpl.Name == "" {
		return errdefs.New(errdefs.KindInvalidState, "template name is required")
	}

	if err := validateInfra(tmpl); err != nil {
		return err
	}
	if err := validatePorts(tmpl.ExposedPorts); err != nil {
		return err
	}
	if err := validateResources(tmpl.MemoryMiB, tmpl.CPULimit); err != nil {
		return err
	}
	if err := validateVisibility(tmpl); err != nil {
		return err
	}

	if tmpl.Document != "" {
		if _, err := containerdriver.ParseDocument(tmpl.Document); err != nil {
			return err
		}
	}

	if tmpl.Infra != types.InfrastructureLocal && hooks != nil {
		h, err := hooks.Get(tmpl.Infra)
		if err != nil {
			return errdefs.Wrap(errdefs.KindInvalidState, "resolve provider hooks", err)
		}
		if !h.ValidateTemplate(tmpl.IaaSTemplate) {
			return errdefs.New(errdefs.KindInvalidState, "iaas template failed provider validation")
		}
	}

	return nil
}

func validateInfra(tmpl *types.Template) error {
	switch tmpl.Infra {
	case types.InfrastructureLocal, types.InfrastructureAWS, types.InfrastructureAzure,
		types.InfrastructureGCP, types.InfrastructureHybrid:
	default:
		return errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("unknown infrastructure kind %q", tmpl.Infra))
	}

	if tmpl.Infra != types.InfrastructureLocal && tmpl.IaaSTemplate == "" {
		return errdefs.New(errdefs.KindInvalidState, "iaas template is required for non-local infrastructure kind")
	}
	if tmpl.Infra == types.InfrastructureLocal && tmpl.Document == "" {
		return errdefs.New(errdefs.KindInvalidState, "document is required for local infrastructure kind")
	}

	return nil
}

func validatePorts(ports []int) error {
	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p < minPort || p > maxPort {
			return errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("exposed port %d out of range [%d, %d]", p, minPort, maxPort))
		}
		if seen[p] {
			return errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("exposed port %d declared more than once", p))
		}
		seen[p] = true
	}
	return nil
}

func validateResources(memoryMiB int64, cpuLimit float64) error {
	if memoryMiB < minMemoryMiB || memoryMiB > maxMemoryMiB {
		return errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("memory %d MiB out of range [%d, %d]", memoryMiB, minMemoryMiB, maxMemoryMiB))
	}
	if cpuLimit <= 0 || cpuLimit > maxCPULimit {
		return errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("cpu limit %.2f out of range (0, %.1f]", cpuLimit, maxCPULimit))
	}
	return nil
}

func validateVisibility(tmpl *types.Template) error {
	switch tmpl.Visibility {
	case types.VisibilityPublic, types.VisibilityPrivate:
	default:
		return errdefs.New(errdefs.KindInvalidState, fmt.Sprintf("unknown visibility %q", tmpl.Visibility))
	}
	if tmpl.Visibility == types.VisibilityPrivate && tmpl.OwnerID == "" {
		return errdefs.New(errdefs.KindInvalidState, "owner id is required for a private template")
	}
	return nil
}
