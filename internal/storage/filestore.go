package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is the file area holding raw DICOM payloads, addressed by SOP
// Instance UID. It is stateless: every operation resolves a relative path
// token under the root directory. Files are created exclusively and never
// overwritten.
type FileStore struct {
	root string
}

// NewFileStore creates the file area root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file area %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// PathFor derives the storage path token for a SOP Instance UID. The UID is
// validated by the caller, so it contains only digits and dots.
func (s *FileStore) PathFor(sopInstanceUID string) string {
	return sopInstanceUID + ".dcm"
}

// Create opens a new file for the given path token. It fails with os.ErrExist
// if the file already exists; overwriting stored instances is never permitted.
func (s *FileStore) Create(path string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(s.root, path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

// Open opens a stored file for reading and reports its size.
func (s *FileStore) Open(path string) (*os.File, int64, error) {
	f, err := os.Open(filepath.Join(s.root, path))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, info.Size(), nil
}

// Remove deletes a stored file. Used to roll back a failed ingestion.
func (s *FileStore) Remove(path string) error {
	return os.Remove(filepath.Join(s.root, path))
}
