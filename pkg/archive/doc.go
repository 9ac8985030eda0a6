/*
Package archive stores Workspace Archives: zip snapshots of an IaaS
workspace directory (Terraform state, lock files, tfvars, the rendered
module) that pkg/iaas restores before each apply/destroy and replaces after
each apply.

Store keeps one file per archive under a configured base directory
(ORCH_ARCHIVE_DIR) and one types.WorkspaceArchive record per file in
pkg/storage. Encryption at rest is optional: supply a pkg/secrets.Manager
derived from ORCH_ARCHIVE_ENCRYPTION_KEY to encrypt new archives, or pass nil
to store them as plain zips. Archives with no referent older than
ORCH_ARCHIVE_RETENTION_DAYS are deleted by the reaper's archive GC pass.

Usage:

	store, err := archive.New(cfg.ArchiveDir, db, encManager)
	a, err := store.Create(env.ID, workspaceDir)
	err = store.Restore(a.ID, workspaceDir)
	a, err = store.Replace(a.ID, workspaceDir)
	err = store.Delete(a.ID)
*/
package archive
