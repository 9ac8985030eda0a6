/*
Package secrets provides AES-256-GCM encryption at rest for Workspace Archive
contents. The files an IaaS workspace renders to disk are not encrypted by it.

Manager is keyed from a single 32-byte key, or derived with
NewManagerFromPassphrase from ORCH_ARCHIVE_ENCRYPTION_KEY. Encryption is
optional: pkg/archive only wraps an archive's bytes in Encrypt/Decrypt when a
Manager is configured, otherwise it stores the archive unencrypted.

Usage:

	mgr, err := secrets.NewManagerFromPassphrase(cfg.ArchiveEncryptionKey)
	ciphertext, err := mgr.Encrypt(archiveBytes)
	plaintext, err := mgr.Decrypt(ciphertext)
*/
package secrets
