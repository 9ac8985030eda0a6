/*
Package iaas drives a Terraform-compatible CLI (ORCH_IAAS_BIN, default
"terraform") through render, init, plan, apply, and archive for a
cloud-backed Environment, and through restore/destroy for teardown.

Driver stages one workspace directory per Environment, restoring it from the
Environment's current Workspace Archive (pkg/archive) before Apply or
Destroy so on-disk state carries across invocations. Every subprocess runs
with TF_IN_AUTOMATION=true and TF_CLI_ARGS=-no-color, its own process group
so a wall-clock timeout can kill the whole tree, and a bounded tail buffer
so a failure surfaces the last 64 KiB of combined stdout/stderr as
errdefs.KindIaaSToolFailed.

Usage:

	driver, err := iaas.New(cfg.IaaSBin, workspaceRoot, archives)
	result, err := driver.Apply(ctx, env, tmpl)
	env.Resources, env.ArchiveID = result.Resources, result.ArchiveID
	...
	err = driver.Destroy(ctx, env)
*/
package iaas
