package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"rcm-go/internal/model"
	"rcm-go/internal/rcm"
)

// MemoryStore is an in-memory vault store for tests. Safe for concurrent
// use.
type MemoryStore struct {
	files map[string][]byte // "<type dir>/<archive name>" -> content
	mu    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) key(fileType model.FileType, archiveName string) string {
	return fileType.CloudKey(archiveName)
}

// PathFor returns a stable pseudo-path for logging and lookups.
func (s *MemoryStore) PathFor(fileType model.FileType, archiveName string) string {
	return "/memory/" + s.key(fileType, archiveName)
}

func (s *MemoryStore) Exists(fileType model.FileType, archiveName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[s.key(fileType, archiveName)]
	return ok, nil
}

func (s *MemoryStore) Write(fileType model.FileType, archiveName string, fn func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[s.key(fileType, archiveName)] = buf.Bytes()
	return nil
}

func (s *MemoryStore) Open(fileType model.FileType, archiveName string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[s.key(fileType, archiveName)]
	if !ok {
		return nil, fmt.Errorf("%w: vault file %s", rcm.ErrNotFound, s.key(fileType, archiveName))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Remove(fileType model.FileType, archiveName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, s.key(fileType, archiveName))
	return nil
}

func (s *MemoryStore) Move(fileType model.FileType, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[s.key(fileType, oldName)]
	if !ok {
		return fmt.Errorf("%w: vault file %s", rcm.ErrNotFound, s.key(fileType, oldName))
	}
	delete(s.files, s.key(fileType, oldName))
	s.files[s.key(fileType, newName)] = data
	return nil
}

// Len returns the number of stored files. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Compile-time check that MemoryStore implements rcm.Store.
var _ rcm.Store = (*MemoryStore)(nil)
