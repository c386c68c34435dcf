// Package vault implements the on-disk vault store: one subdirectory per
// file type, opaque archive names within it.
package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
)

// FileSystemStore is the filesystem implementation of the vault store. It
// keeps no in-memory state; the filesystem is the only state.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at the collection directory and
// ensures the per-type subdirectories exist.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	for _, ft := range model.FileTypes {
		if err := os.MkdirAll(filepath.Join(root, ft.Dir()), 0755); err != nil {
			return nil, fmt.Errorf("creating vault directory for %s: %w", ft, err)
		}
	}
	return &FileSystemStore{root: root}, nil
}

// PathFor returns <root>/<file type dir>/<archive name>. The join is purely
// syntactic.
func (s *FileSystemStore) PathFor(fileType model.FileType, archiveName string) string {
	return filepath.Join(s.root, fileType.Dir(), archiveName)
}

// Exists reports whether the vault file is present.
func (s *FileSystemStore) Exists(fileType model.FileType, archiveName string) (bool, error) {
	_, err := os.Stat(s.PathFor(fileType, archiveName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat vault file: %w", err)
	}
	return true, nil
}

// Write stages to a temp file in the target directory and atomically renames
// into place, so a crash leaves the target either absent or complete.
func (s *FileSystemStore) Write(fileType model.FileType, archiveName string, fn func(w io.Writer) error) error {
	destPath := s.PathFor(fileType, archiveName)
	dir := filepath.Dir(destPath)

	tmpFile, err := os.CreateTemp(dir, ".staged-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fn(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing vault file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

// Open opens a vault file for reading.
func (s *FileSystemStore) Open(fileType model.FileType, archiveName string) (io.ReadCloser, error) {
	f, err := os.Open(s.PathFor(fileType, archiveName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: vault file %s/%s", rcm.ErrNotFound, fileType.Dir(), archiveName)
		}
		return nil, fmt.Errorf("opening vault file: %w", err)
	}
	return f, nil
}

// Remove deletes a vault file. A missing file is success, so a partially
// completed deletion run can retry safely.
func (s *FileSystemStore) Remove(fileType model.FileType, archiveName string) error {
	err := os.Remove(s.PathFor(fileType, archiveName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing vault file: %w", err)
	}
	return nil
}

// Move renames a vault file within its file-type directory.
func (s *FileSystemStore) Move(fileType model.FileType, oldName, newName string) error {
	if err := os.Rename(s.PathFor(fileType, oldName), s.PathFor(fileType, newName)); err != nil {
		return fmt.Errorf("moving vault file: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemStore implements rcm.Store.
var _ rcm.Store = (*FileSystemStore)(nil)
