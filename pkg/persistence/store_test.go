package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func backends() []storeFactory {
	return []storeFactory{
		{"Memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"File", func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
			require.NoError(t, err)
			return s
		}},
		{"Badger", func(t *testing.T) Store {
			s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
			require.NoError(t, err)
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()

			_, err := s.Load("missing")
			assert.True(t, errors.Is(err, ErrNotFound), "Load(missing) error = %v", err)

			require.NoError(t, s.Save("a/one", []byte("1")))
			require.NoError(t, s.Save("a/two", []byte("2")))
			require.NoError(t, s.Save("b/three", []byte("3")))

			v, err := s.Load("a/two")
			require.NoError(t, err)
			assert.Equal(t, "2", string(v))

			keys, err := s.Keys("a/")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/one", "a/two"}, keys)

			require.NoError(t, s.Delete("a/one"))
			require.NoError(t, s.Delete("a/one"), "deleting an absent key is not an error")

			_, err = s.Load("a/one")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestNamespace(t *testing.T) {
	base := NewMemoryStore()
	svc := Namespace(base, "service")
	live := Namespace(base, "liveness")

	require.NoError(t, SaveString(svc, "current_state", "RUNNING"))
	require.NoError(t, SaveInt(live, "force_reset_count", 3))

	_, err := live.Load("current_state")
	assert.True(t, errors.Is(err, ErrNotFound), "namespaces must not leak keys")

	raw, err := base.Load("service/current_state")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(raw))

	keys, err := svc.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"current_state"}, keys)

	require.NoError(t, svc.Close())
	_, err = live.Load("force_reset_count")
	assert.NoError(t, err, "closing a namespace must not close the base store")
}

func TestTypedHelpers(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, SaveBool(s, "shown", true))
	b, err := LoadBool(s, "shown")
	require.NoError(t, err)
	assert.True(t, b)

	require.NoError(t, SaveInt(s, "count", 42))
	n, err := LoadInt(s, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	ts := time.UnixMilli(1760000000123)
	require.NoError(t, SaveTime(s, "at", ts))
	got, err := LoadTime(s, "at")
	require.NoError(t, err)
	assert.True(t, got.Equal(ts), "LoadTime = %v, want %v", got, ts)

	require.NoError(t, SaveTime(s, "zero", time.Time{}))
	got, err = LoadTime(s, "zero")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	require.NoError(t, SaveString(s, "bad", "not-a-number"))
	_, err = LoadInt(s, "bad")
	assert.Error(t, err)
}

func TestFileStorePersistsAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s1, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, SaveString(s1, "service/current_state", "STOPPED"))
	require.NoError(t, s1.Close())

	s2, err := NewFileStore(path)
	require.NoError(t, err)
	v, err := LoadString(s2, "service/current_state")
	require.NoError(t, err)
	assert.Equal(t, "STOPPED", v)
}

func TestFileStoreCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	keys, err := s.Keys("")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Save("k", []byte("v")))
	require.NoError(t, s.Close())
	s2, err := NewFileStore(path)
	require.NoError(t, err)
	v, err := s2.Load("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("k", []byte("v")))

	require.NoError(t, s.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.Clear(), "clearing twice is fine")
}

func TestBadgerStorePersistsAcrossHandles(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenBadgerStore(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, SaveInt(s1, "liveness/deep_reset_count", 2))
	require.NoError(t, s1.Close())

	s2, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s2.Close()

	n, err := LoadInt(s2, "liveness/deep_reset_count")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpenBadgerStoreRequiresPath(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestClosedStores(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Save("k", nil), ErrClosed)

	f, err := NewFileStore(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = f.Load("k")
	assert.ErrorIs(t, err, ErrClosed)
}
