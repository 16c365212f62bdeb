package persistence

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store errors.
var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store closed")

	// ErrLocked is returned when another process holds the state file.
	ErrLocked = errors.New("state file is locked by another process")
)

// Store is a flat key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the value for key, or ErrNotFound.
	Load(key string) ([]byte, error)

	// Save stores value under key, replacing any previous value.
	Save(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys returns all keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// namespaced prefixes all keys with "<ns>/".
type namespaced struct {
	inner  Store
	prefix string
}

// Namespace scopes a store so keys from different components cannot collide.
// Closing a namespaced store does not close the underlying store.
func Namespace(s Store, ns string) Store {
	return &namespaced{inner: s, prefix: ns + "/"}
}

func (n *namespaced) Load(key string) ([]byte, error) { return n.inner.Load(n.prefix + key) }

func (n *namespaced) Save(key string, value []byte) error {
	return n.inner.Save(n.prefix+key, value)
}

func (n *namespaced) Delete(key string) error { return n.inner.Delete(n.prefix + key) }

func (n *namespaced) Keys(prefix string) ([]string, error) {
	keys, err := n.inner.Keys(n.prefix + prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.prefix)
	}
	return keys, nil
}

func (n *namespaced) Close() error { return nil }

// MemoryStore is an in-memory Store, mainly for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool

	// FailWrites makes every Save and Delete fail. Used to exercise
	// persistence-error paths.
	FailWrites bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load returns a copy of the stored value.
func (m *MemoryStore) Load(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Save stores a copy of value.
func (m *MemoryStore) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailWrites {
		return errors.New("memory store: write failed")
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailWrites {
		return errors.New("memory store: write failed")
	}
	delete(m.data, key)
	return nil
}

// Keys returns sorted keys with the given prefix.
func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Typed helpers. Values are stored as their textual form so files stay
// human-readable; parse failures are reported as errors and callers fall
// back to their defaults.

// LoadString reads a string value.
func LoadString(s Store, key string) (string, error) {
	v, err := s.Load(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SaveString writes a string value.
func SaveString(s Store, key, value string) error {
	return s.Save(key, []byte(value))
}

// LoadBool reads a boolean value.
func LoadBool(s Store, key string) (bool, error) {
	v, err := s.Load(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(string(v))
}

// SaveBool writes a boolean value.
func SaveBool(s Store, key string, value bool) error {
	return s.Save(key, []byte(strconv.FormatBool(value)))
}

// LoadInt reads an integer value.
func LoadInt(s Store, key string) (int64, error) {
	v, err := s.Load(key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(v), 10, 64)
}

// SaveInt writes an integer value.
func SaveInt(s Store, key string, value int64) error {
	return s.Save(key, []byte(strconv.FormatInt(value, 10)))
}

// LoadTime reads a timestamp stored as Unix milliseconds.
// Zero is returned as the zero time.
func LoadTime(s Store, key string) (time.Time, error) {
	ms, err := LoadInt(s, key)
	if err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

// SaveTime writes a timestamp as Unix milliseconds. The zero time is stored as 0.
func SaveTime(s Store, key string, t time.Time) error {
	if t.IsZero() {
		return SaveInt(s, key, 0)
	}
	return SaveInt(s, key, t.UnixMilli())
}
