/*
Package providerhooks runs the cloud-kind-specific steps the Orchestrator
wraps an IaaS apply/destroy in: PreProvision/PostProvision around Apply,
PreDestroy/PostDestroy around Destroy, plus StartResources/StopResources for
resuming or suspending an already-provisioned Environment without a full
re-apply.

Registry looks up the Hooks implementation for a Template's
InfrastructureKind; each kind is added explicitly with Register.
A pre* hook's error aborts the pipeline before the IaaS tool runs; a post*
hook's error is only logged, since by the time it runs the infrastructure
change already happened and rolling it back would be a separate, explicit
destroy.

Usage:

	registry := providerhooks.NewRegistry()
	registry.Register(types.InfrastructureAWS, providerhooks.NewAWSHooks("us-east-1"))

	hooks, err := registry.Get(env.Infra)
	if err := hooks.PreProvision(ctx, env); err != nil { ... }
*/
package providerhooks
