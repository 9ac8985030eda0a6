/*
Package orchestrator is the single-process authority over the Environment
lifecycle state machine (CREATING/STARTING/RUNNING/STOPPING/STOPPED/
DELETING/DESTROYED/FAILED/ERROR). Create is admitted against quota and host
resource caps (pkg/resourceguard) and reserves its host ports before its
record is persisted; Start, Stop and Delete run no admission check. Every
mutating operation's work runs on a bounded worker pool (WorkerPool: core/max/queue-sized, matching the scheduling
model) under a per-environment keyed lock so two operations on the same
Environment never interleave, and is persisted through pkg/storage's
optimistic-concurrency UpdateEnvironment.

Create provisions either a local compose group (pkg/containerdriver) or a
cloud IaaS workspace (pkg/providerhooks pre/post around pkg/iaas.Apply).
Start/Stop resume or suspend the same resources without a full re-apply.
Delete is legal from any non-terminal state and, once past the
resources-released checkpoint, always completes to DESTROYED. A Notifier
(implemented by pkg/notifier) is told about every status change so
subscribed clients see a prefix of the machine's legal transitions, never
an out-of-order update.

Usage:

	orch := orchestrator.New(store, guard, driver, iaasDriver, ports, hooks, notifier, orchestrator.Config{})
	env, err := orch.CreateEnvironment(ctx, orchestrator.CreateRequest{
		Name: "my-env", TemplateID: tmpl.ID, OwnerID: owner,
	})
	err = orch.StopEnvironment(ctx, env.ID)
	err = orch.DeleteEnvironment(ctx, env.ID)
*/
package orchestrator
