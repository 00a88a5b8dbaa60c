package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StagingStore persists uploaded files on disk under a base directory.
// Writes go to a spool area first and become visible only after Publish
// renames them into place, so readers never observe partial files.
type StagingStore struct {
	baseDir  string
	spoolDir string
}

// NewStagingStore ensures the base and spool directories exist.
func NewStagingStore(baseDir string) (*StagingStore, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	spoolDir := filepath.Join(baseDir, ".spool")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &StagingStore{baseDir: baseDir, spoolDir: spoolDir}, nil
}

// SpoolStream copies the reader into a spool file keyed by id and returns
// the number of bytes written. The file is not visible to readers until
// Publish is called.
func (s *StagingStore) SpoolStream(id string, r io.Reader) (int64, error) {
	file, err := os.Create(s.spoolPath(id))
	if err != nil {
		return 0, fmt.Errorf("create spool file: %w", err)
	}
	n, err := io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(s.spoolPath(id))
		return 0, fmt.Errorf("write spool file: %w", err)
	}
	return n, nil
}

// Publish atomically moves the spooled file into the staged area.
func (s *StagingStore) Publish(id string) error {
	if err := os.Rename(s.spoolPath(id), s.stagedPath(id)); err != nil {
		return fmt.Errorf("publish staged file: %w", err)
	}
	return nil
}

// Discard drops a spooled file that will not be staged.
func (s *StagingStore) Discard(id string) error {
	if err := os.Remove(s.spoolPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard spool file: %w", err)
	}
	return nil
}

// Open returns a read-only handle for a staged or spooled file. The spool
// copy is used while ingestion is still parsing the upload.
func (s *StagingStore) Open(id string) (*os.File, error) {
	file, err := os.Open(s.stagedPath(id))
	if err == nil {
		return file, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	file, err = os.Open(s.spoolPath(id))
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return file, nil
}

// Exists reports whether a published staged file is present for the id.
func (s *StagingStore) Exists(id string) bool {
	_, err := os.Stat(s.stagedPath(id))
	return err == nil
}

// Size returns the staged file size in bytes.
func (s *StagingStore) Size(id string) (int64, error) {
	info, err := os.Stat(s.stagedPath(id))
	if err != nil {
		return 0, fmt.Errorf("stat staged file: %w", err)
	}
	return info.Size(), nil
}

// Path exposes the underlying staged path (useful for debugging).
func (s *StagingStore) Path(id string) string {
	return s.stagedPath(id)
}

func (s *StagingStore) stagedPath(id string) string {
	return filepath.Join(s.baseDir, id+".csv")
}

func (s *StagingStore) spoolPath(id string) string {
	return filepath.Join(s.spoolDir, id+".csv.tmp")
}
