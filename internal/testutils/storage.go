// Package testutils holds fakes shared by package tests.
package testutils

import (
	"context"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/osv/fixfinder/clients"
)

type mockObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// MockStorage implements clients.CloudStorage for testing.
type MockStorage struct {
	mu      sync.RWMutex
	objects map[string]*mockObject
	writes  int
}

// NewMockStorage creates a new mock storage client.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		objects: make(map[string]*mockObject),
	}
}

func (c *MockStorage) ReadObject(_ context.Context, path string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[path]
	if !ok {
		return nil, clients.ErrNotFound
	}

	return slices.Clone(obj.data), nil
}

func (c *MockStorage) ReadObjectAttrs(_ context.Context, path string) (*clients.Attrs, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[path]
	if !ok {
		return nil, clients.ErrNotFound
	}

	return &clients.Attrs{Size: int64(len(obj.data)), Metadata: maps.Clone(obj.metadata)}, nil
}

func (c *MockStorage) WriteObject(_ context.Context, path string, data []byte, opts *clients.WriteOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj := &mockObject{data: slices.Clone(data)}
	if opts != nil {
		obj.contentType = opts.ContentType
		obj.metadata = maps.Clone(opts.Metadata)
	}
	c.objects[path] = obj
	c.writes++

	return nil
}

// ContentType returns the content type an object was written with.
func (c *MockStorage) ContentType(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if obj, ok := c.objects[path]; ok {
		return obj.contentType
	}

	return ""
}

// Writes counts successful WriteObject calls.
func (c *MockStorage) Writes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.writes
}

func (c *MockStorage) Objects(_ context.Context, prefix string) iter.Seq2[string, error] {
	c.mu.RLock()
	var keys []string
	for path := range c.objects {
		if strings.HasPrefix(path, prefix) {
			keys = append(keys, path)
		}
	}
	c.mu.RUnlock()
	slices.Sort(keys)

	return func(yield func(string, error) bool) {
		for _, key := range keys {
			if !yield(key, nil) {
				return
			}
		}
	}
}

func (c *MockStorage) Close() error {
	return nil
}
