package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"rcm-go/internal/rcm"
)

// MemoryStore is an in-memory CloudStore for tests. FailUploads can be set
// to make the next n uploads fail, for exercising retry paths.
type MemoryStore struct {
	mu          sync.RWMutex
	objects     map[string][]byte
	FailUploads int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(ctx context.Context, key string, r io.Reader, progress func(rcm.PartProgress)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.FailUploads > 0 {
		m.FailUploads--
		m.mu.Unlock()
		return fmt.Errorf("upload %s: injected failure", key)
	}
	m.mu.Unlock()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()
	if progress != nil {
		progress(rcm.PartProgress{Key: key, Part: 1})
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Move(ctx context.Context, fromKey, toKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[fromKey]
	if !ok {
		return fmt.Errorf("move %s: %w", fromKey, rcm.ErrNotFound)
	}
	m.objects[toKey] = data
	delete(m.objects, fromKey)
	return nil
}

func (m *MemoryStore) Download(ctx context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("download %s: %w", key, rcm.ErrNotFound)
	}
	_, err := w.Write(data)
	return err
}

// Object returns the stored bytes for key, or nil.
func (m *MemoryStore) Object(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key]
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// StaticConnector returns a fixed store from Connect. Used in tests.
type StaticConnector struct {
	Store rcm.CloudStore
	Err   error
}

func (c *StaticConnector) Connect(ctx context.Context) (rcm.CloudStore, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Store, nil
}

var (
	_ rcm.CloudStore     = (*MemoryStore)(nil)
	_ rcm.CloudConnector = (*StaticConnector)(nil)
)
