package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is a map-backed Store used by tests and local development.
// It mirrors the store's replace-only tag semantics.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	tags    map[string]map[string]string
	buckets map[string]map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		tags:    make(map[string]map[string]string),
		buckets: make(map[string]map[string][]byte),
	}
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return body, nil
}

func (m *Memory) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = body
	return nil
}

func (m *Memory) GetTags(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	out := make(map[string]string, len(m.tags[key]))
	for k, v := range m.tags[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) PutTags(_ context.Context, key string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("object %q not found", key)
	}
	set := make(map[string]string, len(tags))
	for k, v := range tags {
		set[k] = v
	}
	m.tags[key] = set
	return nil
}

func (m *Memory) CopyTo(_ context.Context, destBucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("object %q not found", key)
	}
	if m.buckets[destBucket] == nil {
		return fmt.Errorf("bucket %q not found", destBucket)
	}
	m.buckets[destBucket][key] = body
	return nil
}

func (m *Memory) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

// BucketKeys lists the keys copied into a secondary bucket, for assertions.
func (m *Memory) BucketKeys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
