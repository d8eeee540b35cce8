package blob

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"registrymigrate/internal/migrate"
)

var _ migrate.ObjectStore = (*Memory)(nil)

// Object is one stored asset payload, kept for test assertions.
type Object struct {
	ContentType string
	Data        []byte
}

// Memory is an in-memory object store for tests. The zero value has no
// bucket; NewMemoryWithBucket starts with one.
type Memory struct {
	mu      sync.Mutex
	bucket  bool
	objects map[string]Object
}

// NewMemory returns an empty in-memory object store without a bucket.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// NewMemoryWithBucket returns an in-memory object store with an existing
// empty bucket.
func NewMemoryWithBucket() *Memory {
	m := NewMemory()
	m.bucket = true
	return m
}

func (m *Memory) BucketExists(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucket, nil
}

func (m *Memory) CreateBucket(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket = true
	return nil
}

func (m *Memory) CountTemplates(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.objects {
		if strings.HasPrefix(key, templatePrefix) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteTemplates(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.objects {
		if strings.HasPrefix(key, templatePrefix) {
			delete(m.objects, key)
		}
	}
	return nil
}

func (m *Memory) StoreAsset(_ context.Context, templateID, assetID, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.bucket {
		return fmt.Errorf("bucket does not exist")
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[templateKey(templateID, assetID)] = Object{ContentType: contentType, Data: stored}
	return nil
}

// Seed stores an object directly, bypassing bucket checks; for tests.
func (m *Memory) Seed(key string, obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = obj
}

// Objects returns a copy of the stored objects keyed by object key.
func (m *Memory) Objects() map[string]Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Object, len(m.objects))
	for key, obj := range m.objects {
		out[key] = obj
	}
	return out
}
