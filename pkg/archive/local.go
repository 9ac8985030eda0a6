// Package archive stores Workspace Archives: zipped snapshots of the files
// an IaaS tool needs to apply/destroy one Environment (state files, lock
// files, tfvars, and the rendered module), optionally encrypted at rest.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/envforge/envforge/pkg/secrets"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

// DefaultArchiveDir is the base directory archives are written under when
// no ORCH_ARCHIVE_DIR is configured.
const DefaultArchiveDir = "/var/lib/envforge/archives"

// Store zips an IaaS workspace directory into a Workspace Archive, tracks it
// in pkg/storage, and can restore it back to a directory for the next
// apply. A Manager is optional: without one, archives are stored
// unencrypted.
type Store struct {
	baseDir string
	db      storage.Store
	enc     *secrets.Manager
}

// New builds a Store rooted at baseDir (created if missing). enc may be nil
// to disable encryption at rest.
func New(baseDir string, db storage.Store, enc *secrets.Manager) (*Store, error) {
	if baseDir == "" {
		baseDir = DefaultArchiveDir
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Store{baseDir: baseDir, db: db, enc: enc}, nil
}

func (s *Store) path(archiveID string) string {
	return filepath.Join(s.baseDir, archiveID+".zip")
}

// Create zips every regular file under workspaceDir and stores it as a new
// Workspace Archive referenced by environmentID. This is the "created at
// first apply" case: there is no prior archive to replace.
func (s *Store) Create(environmentID, workspaceDir string) (*types.WorkspaceArchive, error) {
	data, err := zipDir(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("zip workspace: %w", err)
	}

	encrypted := false
	if s.enc != nil {
		data, err = s.enc.Encrypt(data)
		if err != nil {
			return nil, fmt.Errorf("encrypt archive: %w", err)
		}
		encrypted = true
	}

	archive := &types.WorkspaceArchive{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		Encrypted:     encrypted,
		SizeBytes:     int64(len(data)),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := os.WriteFile(s.path(archive.ID), data, 0o600); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	if err := s.db.CreateWorkspaceArchive(archive); err != nil {
		os.Remove(s.path(archive.ID))
		return nil, fmt.Errorf("persist archive record: %w", err)
	}
	return archive, nil
}

// Replace overwrites an existing Workspace Archive's contents from
// workspaceDir, for the "replaced on each apply" case, keeping the same
// archive id so the Environment's reference stays valid.
func (s *Store) Replace(archiveID, workspaceDir string) (*types.WorkspaceArchive, error) {
	archive, err := s.db.GetWorkspaceArchive(archiveID)
	if err != nil {
		return nil, fmt.Errorf("get archive record: %w", err)
	}

	data, err := zipDir(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("zip workspace: %w", err)
	}

	if s.enc != nil {
		data, err = s.enc.Encrypt(data)
		if err != nil {
			return nil, fmt.Errorf("encrypt archive: %w", err)
		}
		archive.Encrypted = true
	} else {
		archive.Encrypted = false
	}

	if err := os.WriteFile(s.path(archive.ID), data, 0o600); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	archive.SizeBytes = int64(len(data))
	archive.UpdatedAt = time.Now()
	if err := s.db.UpdateWorkspaceArchive(archive); err != nil {
		return nil, fmt.Errorf("persist archive record: %w", err)
	}
	return archive, nil
}

// Restore unzips a Workspace Archive's contents into destDir, decrypting
// first if the archive was encrypted. Used before each apply/destroy so the
// IaaS driver sees the prior run's state.
func (s *Store) Restore(archiveID, destDir string) error {
	archive, err := s.db.GetWorkspaceArchive(archiveID)
	if err != nil {
		return fmt.Errorf("get archive record: %w", err)
	}

	data, err := os.ReadFile(s.path(archiveID))
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	if archive.Encrypted {
		if s.enc == nil {
			return fmt.Errorf("archive %s is encrypted but no encryption key is configured", archiveID)
		}
		data, err = s.enc.Decrypt(data)
		if err != nil {
			return fmt.Errorf("decrypt archive: %w", err)
		}
	}

	return unzipTo(data, destDir)
}

// Delete removes a Workspace Archive's file and record. Called on successful
// destroy, and by the reaper's archive GC pass. Idempotent.
func (s *Store) Delete(archiveID string) error {
	if err := os.Remove(s.path(archiveID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive file: %w", err)
	}
	if err := s.db.DeleteWorkspaceArchive(archiveID); err != nil {
		return fmt.Errorf("delete archive record: %w", err)
	}
	return nil
}

func zipDir(srcDir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unzipTo(data []byte, destDir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, f := range zr.File {
		destPath := filepath.Join(destDir, f.Name)
		if !isWithinDir(destDir, destPath) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func isWithinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
