/*
Package reaper runs six independently-scheduled background sweeps that
keep environment, archive, port-lease, and container-health state
converging without a human driving every transition:

  - Idle auto-stop (hourly): stops RUNNING environments that have sat
    untouched longer than their own AutoStopHours.
  - Stale cleanup (hourly): forces environments stuck in a transitional
    status (CREATING, STARTING, STOPPING, DELETING) for more than
    StaleThreshold into DELETING, via the orchestrator's existing
    universal any-non-terminal-state escape.
  - Archive GC (daily): deletes Workspace Archives past ArchiveRetention
    whose owning environment is gone or already DESTROYED.
  - Port lease GC (daily): releases host-port leases whose owning
    environment is gone or already DESTROYED.
  - Metric prune (daily): deletes metric samples past MetricRetention
    regardless of their environment's status.
  - Health probe (every 5 minutes, when a HealthProber is configured):
    runs each RUNNING environment's per-container health check and
    persists the result.

Each scan recomputes its worklist from the repository on every run rather
than tracking state of its own, so a crash between scans loses nothing:
the next run simply sees the same backlog (or a larger one) and acts on
it again. Every scan is capped at Config.BatchSize records per run so one
sweep over a large backlog cannot monopolize the orchestrator or storage.

Usage:

	r := reaper.New(store, orch, archiveStore, driver, reaper.Config{})
	r.Start()
	defer r.Stop()
*/
package reaper
