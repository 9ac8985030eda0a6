package providerhooks

import (
	"context"
	"strings"

	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/types"
)

// defaultHooks is the Hooks implementation for every InfrastructureKind that
// has no kind-specific behavior beyond logging the lifecycle transition and
// a minimal sanity check on the Template's module text. It is registered
// once per cloud kind with a different set of default variables, mirroring
// how a real cloud-kind hook set would differ only in the details, not the
// shape.
type defaultHooks struct {
	kind         types.InfrastructureKind
	region       string
	defaultVars  map[string]string
	requiredText string // substring every module for this kind must contain
}

// NewAWSHooks builds the Hooks set registered for InfrastructureAWS.
func NewAWSHooks(region string) Hooks {
	return &defaultHooks{
		kind:         types.InfrastructureAWS,
		region:       region,
		defaultVars:  map[string]string{"aws_region": region},
		requiredText: "provider \"aws\"",
	}
}

// NewAzureHooks builds the Hooks set registered for InfrastructureAzure.
func NewAzureHooks(region string) Hooks {
	return &defaultHooks{
		kind:         types.InfrastructureAzure,
		region:       region,
		defaultVars:  map[string]string{"azure_region": region},
		requiredText: "provider \"azurerm\"",
	}
}

// NewGCPHooks builds the Hooks set registered for InfrastructureGCP.
func NewGCPHooks(region string) Hooks {
	return &defaultHooks{
		kind:         types.InfrastructureGCP,
		region:       region,
		defaultVars:  map[string]string{"gcp_region": region},
		requiredText: "provider \"google\"",
	}
}

// NewHybridHooks builds the Hooks set registered for InfrastructureHybrid,
// which accepts any provider block since it spans more than one cloud.
func NewHybridHooks() Hooks {
	return &defaultHooks{kind: types.InfrastructureHybrid, defaultVars: map[string]string{}}
}

func (h *defaultHooks) PreProvision(ctx context.Context, env *types.Environment) error {
	log.WithEnvironmentID(env.ID).Debug().Str("infra", string(h.kind)).Msg("provider hook: pre-provision")
	return nil
}

func (h *defaultHooks) PostProvision(ctx context.Context, env *types.Environment) error {
	log.WithEnvironmentID(env.ID).Debug().Str("infra", string(h.kind)).Msg("provider hook: post-provision")
	return nil
}

func (h *defaultHooks) PreDestroy(ctx context.Context, env *types.Environment) error {
	log.WithEnvironmentID(env.ID).Debug().Str("infra", string(h.kind)).Msg("provider hook: pre-destroy")
	return nil
}

func (h *defaultHooks) PostDestroy(ctx context.Context, env *types.Environment) error {
	log.WithEnvironmentID(env.ID).Debug().Str("infra", string(h.kind)).Msg("provider hook: post-destroy")
	return nil
}

func (h *defaultHooks) StartResources(ctx context.Context, env *types.Environment) error {
	log.WithEnvironmentID(env.ID).Info().Str("infra", string(h.kind)).Msg("provider hook: start resources")
	return nil
}

func (h *defaultHooks) StopResources(ctx context.Context, env *types.Environment) error {
	log.WithEnvironmentID(env.ID).Info().Str("infra", string(h.kind)).Msg("provider hook: stop resources")
	return nil
}

func (h *defaultHooks) ValidateTemplate(templateText string) bool {
	if h.requiredText == "" {
		return strings.TrimSpace(templateText) != ""
	}
	return strings.Contains(templateText, h.requiredText)
}

func (h *defaultHooks) DefaultVariables() map[string]string {
	vars := make(map[string]string, len(h.defaultVars))
	for k, v := range h.defaultVars {
		vars[k] = v
	}
	return vars
}
