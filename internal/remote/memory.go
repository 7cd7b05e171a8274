package remote

import (
	"context"
	"io"
	"slices"
	"sync"
)

// MemStore is an in-memory Store used by tests. Failures can be injected
// per key and are consumed one call at a time, which makes retry behavior
// easy to script.
type MemStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	putErrs    map[string][]error
	deleteErrs map[string][]error
	listErr    error
	putCalls   map[string]int
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		objects:    make(map[string][]byte),
		putErrs:    make(map[string][]error),
		deleteErrs: make(map[string][]error),
		putCalls:   make(map[string]int),
	}
}

func (m *MemStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls[key]++
	if errs := m.putErrs[key]; len(errs) > 0 {
		m.putErrs[key] = errs[1:]
		return errs[0]
	}
	m.objects[key] = content
	return nil
}

func (m *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if errs := m.deleteErrs[key]; len(errs) > 0 {
		m.deleteErrs[key] = errs[1:]
		return errs[0]
	}
	delete(m.objects, key)
	return nil
}

func (m *MemStore) List(ctx context.Context, prefix string, fn func(Object) error) error {
	m.mu.Lock()
	if m.listErr != nil {
		err := m.listErr
		m.mu.Unlock()
		return err
	}
	var objects []Object
	for key, content := range m.objects {
		if prefix == "" || hasKeyPrefix(key, prefix) {
			objects = append(objects, Object{Key: key, Size: int64(len(content))})
		}
	}
	m.mu.Unlock()

	slices.SortFunc(objects, func(a, b Object) int {
		if a.Key < b.Key {
			return -1
		}
		return 1
	})
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

func hasKeyPrefix(key, prefix string) bool {
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

func (m *MemStore) FailNextPut(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErrs[key] = append(m.putErrs[key], err)
}

func (m *MemStore) FailNextDelete(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErrs[key] = append(m.deleteErrs[key], err)
}

func (m *MemStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *MemStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[key]
	return content, ok
}

func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (m *MemStore) PutCalls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCalls[key]
}

// Seed stores content under key without going through Put's failure
// injection.
func (m *MemStore) Seed(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = content
}
