package blob

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps objects in maps. Used in tests and local runs without an
// object gateway.
type Memory struct {
	mu      sync.Mutex
	objects map[Class]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: map[Class]map[string][]byte{
		ClassLegal:  {},
		ClassActive: {},
	}}
}

func (m *Memory) Put(ctx context.Context, class Class, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.objects[class]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	bucket[key] = cp
	return nil
}

func (m *Memory) Get(ctx context.Context, class Class, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.objects[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	data, ok := bucket[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", class, key, ErrNotFound)
	}
	return data, nil
}

// Keys lists stored keys in a class, for assertions in tests.
func (m *Memory) Keys(class Class) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects[class] {
		out = append(out, k)
	}
	return out
}

var _ Store = (*Memory)(nil)
