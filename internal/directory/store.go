package directory

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnavailable wraps any failure to complete a round trip to the store.
	ErrUnavailable = errors.New("directory store unavailable")

	// ErrNotFound is returned by GetField when the hash has no such field.
	ErrNotFound = errors.New("field not found")
)

// Field is a single hash field and its raw value.
type Field struct {
	Name  string
	Value []byte
}

// Store is the key-value surface the directory needs.
// Implementations must be safe for concurrent use.
type Store interface {
	// SetField writes value into field of the hash at key, overwriting it.
	SetField(ctx context.Context, key, field string, value []byte) error

	// GetField reads one field. Returns ErrNotFound if it does not exist.
	GetField(ctx context.Context, key, field string) ([]byte, error)

	// DeleteField removes a field. No error if it does not exist.
	DeleteField(ctx context.Context, key, field string) error

	// Fields returns every field of the hash at key.
	// Order is whatever the store iterates in and is not stable.
	Fields(ctx context.Context, key string) ([]Field, error)

	// AddMember adds member to the set at key. Adding twice is a no-op.
	AddMember(ctx context.Context, key, member string) error

	// Members returns every member of the set at key.
	Members(ctx context.Context, key string) ([]string, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// MemoryStore implements Store in process memory.
// It keeps insertion order for hash fields and set members so results are
// predictable in tests. State is shared only by callers holding the same
// *MemoryStore.
type MemoryStore struct {
	mu     sync.RWMutex
	hashes map[string]*orderedHash
	sets   map[string]*orderedSet
	closed bool
}

type orderedHash struct {
	order  []string
	values map[string][]byte
}

type orderedSet struct {
	order   []string
	members map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]*orderedHash),
		sets:   make(map[string]*orderedSet),
	}
}

// SetField stores a copy of value so callers may reuse their buffer.
func (m *MemoryStore) SetField(ctx context.Context, key, field string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = &orderedHash{values: make(map[string][]byte)}
		m.hashes[key] = h
	}
	if _, exists := h.values[field]; !exists {
		h.order = append(h.order, field)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	h.values[field] = stored
	return nil
}

// GetField returns a copy of the stored value.
func (m *MemoryStore) GetField(ctx context.Context, key, field string) ([]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hashes[key]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := h.values[field]
	if !ok {
		return nil, ErrNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// DeleteField removes field from the hash at key.
func (m *MemoryStore) DeleteField(ctx context.Context, key, field string) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	if _, exists := h.values[field]; !exists {
		return nil
	}
	delete(h.values, field)
	for i, name := range h.order {
		if name == field {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return nil
}

// Fields returns the hash fields in insertion order.
func (m *MemoryStore) Fields(ctx context.Context, key string) ([]Field, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hashes[key]
	if !ok {
		return []Field{}, nil
	}

	fields := make([]Field, 0, len(h.order))
	for _, name := range h.order {
		value := make([]byte, len(h.values[name]))
		copy(value, h.values[name])
		fields = append(fields, Field{Name: name, Value: value})
	}
	return fields, nil
}

// AddMember adds member to the set at key.
func (m *MemoryStore) AddMember(ctx context.Context, key, member string) error {
	if err := m.check(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[key]
	if !ok {
		s = &orderedSet{members: make(map[string]struct{})}
		m.sets[key] = s
	}
	if _, exists := s.members[member]; exists {
		return nil
	}
	s.members[member] = struct{}{}
	s.order = append(s.order, member)
	return nil
}

// Members returns the set members in insertion order.
func (m *MemoryStore) Members(ctx context.Context, key string) ([]string, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sets[key]
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), s.order...), nil
}

// Ping fails only once the store has been closed.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.check(ctx)
}

// Close marks the store closed; later calls return ErrUnavailable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrUnavailable
	}
	return nil
}
