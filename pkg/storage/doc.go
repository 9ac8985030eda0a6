/*
Package storage provides BoltDB-backed persistence for the orchestration
core's state: templates, environments, container instances, workspace
archives, metric samples, and port leases.

Each entity type lives in its own bucket, keyed by id and JSON-marshaled.
Reads run in db.View transactions (concurrent, consistent snapshots); writes
run in db.Update transactions (serialized, atomic, fsync'd on commit).

Environment updates are optimistic: UpdateEnvironment compares the caller's
Version against the stored Version and fails with errdefs.KindConflict on a
mismatch, then persists with Version incremented. Every other entity uses a
plain upsert with no version check.

Metric samples are append-only, keyed by environment id plus a
timestamp-then-sequence suffix, so iteration yields them grouped by
environment and ordered by sample timestamp (insertion order only breaks
ties); the Reaper prunes samples past the configured retention window.

Usage:

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer store.Close()

	env, err := store.GetEnvironment(id)
	env.Status = types.StatusRunning
	err = store.UpdateEnvironment(env) // fails on concurrent modification
*/
package storage
