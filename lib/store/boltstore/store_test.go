package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
	storetesting "github.com/ValentinKolb/dDoc/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore(t *testing.T) {
	storetesting.RunStoreTests(t, "boltstore", func(t *testing.T) store.Store {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "ddoc.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ddoc.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("users", "ada", []byte(`{"name":"Ada"}`)))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	value, err := s.Get("users", "ada")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada"}`, string(value))
}
