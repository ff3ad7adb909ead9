package memstore

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
	storetesting "github.com/ValentinKolb/dDoc/lib/store/testing"
)

func TestMemoryStore(t *testing.T) {
	storetesting.RunStoreTests(t, "memstore", func(t *testing.T) store.Store {
		return NewMemoryStore()
	})
}
