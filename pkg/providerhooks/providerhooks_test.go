package providerhooks

import (
	"context"
	"testing"

	"github.com/envforge/envforge/pkg/types"
)

func TestRegistryGetUnregisteredKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(types.InfrastructureAWS); err == nil {
		t.Error("Get() on unregistered kind should error")
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	aws := NewAWSHooks("us-east-1")
	r.Register(types.InfrastructureAWS, aws)

	got, err := r.Get(types.InfrastructureAWS)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != aws {
		t.Error("Get() should return the exact registered Hooks value")
	}
}

func TestAWSHooksValidateTemplate(t *testing.T) {
	h := NewAWSHooks("us-east-1")

	if !h.ValidateTemplate(`provider "aws" { region = "us-east-1" }`) {
		t.Error("ValidateTemplate() should accept a module with an aws provider block")
	}
	if h.ValidateTemplate(`provider "google" {}`) {
		t.Error("ValidateTemplate() should reject a module with no aws provider block")
	}
}

func TestHybridHooksAcceptsAnyNonEmptyTemplate(t *testing.T) {
	h := NewHybridHooks()

	if !h.ValidateTemplate(`provider "aws" {}`) {
		t.Error("hybrid ValidateTemplate() should accept any non-empty module")
	}
	if h.ValidateTemplate("") {
		t.Error("hybrid ValidateTemplate() should reject an empty module")
	}
}

func TestDefaultVariablesIsACopy(t *testing.T) {
	h := NewAWSHooks("us-east-1")

	vars := h.DefaultVariables()
	vars["aws_region"] = "mutated"

	again := h.DefaultVariables()
	if again["aws_region"] != "us-east-1" {
		t.Error("DefaultVariables() should return a defensive copy")
	}
}

func TestLifecycleHooksDoNotError(t *testing.T) {
	h := NewGCPHooks("us-central1")
	env := &types.Environment{ID: "env-1", Infra: types.InfrastructureGCP}
	ctx := context.Background()

	if err := h.PreProvision(ctx, env); err != nil {
		t.Errorf("PreProvision() error = %v", err)
	}
	if err := h.PostProvision(ctx, env); err != nil {
		t.Errorf("PostProvision() error = %v", err)
	}
	if err := h.PreDestroy(ctx, env); err != nil {
		t.Errorf("PreDestroy() error = %v", err)
	}
	if err := h.PostDestroy(ctx, env); err != nil {
		t.Errorf("PostDestroy() error = %v", err)
	}
	if err := h.StartResources(ctx, env); err != nil {
		t.Errorf("StartResources() error = %v", err)
	}
	if err := h.StopResources(ctx, env); err != nil {
		t.Errorf("StopResources() error = %v", err)
	}
}
