package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a fresh, empty store for one test
type StoreFactory func(t *testing.T) store.Store

// RunStoreTests runs the conformance suite against the stores created by factory
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory(t)) })
		t.Run("Remove", func(t *testing.T) { testRemove(t, factory(t)) })
		t.Run("Validation", func(t *testing.T) { testValidation(t, factory(t)) })
		t.Run("Merge", func(t *testing.T) { testMerge(t, factory(t)) })
		t.Run("Buckets", func(t *testing.T) { testBuckets(t, factory(t)) })
		t.Run("Range", func(t *testing.T) { testRange(t, factory(t)) })
		t.Run("Scan", func(t *testing.T) { testScan(t, factory(t)) })
		t.Run("Flush", func(t *testing.T) { testFlush(t, factory(t)) })
		t.Run("Backup", func(t *testing.T) { testBackup(t, factory(t), factory(t)) })
		t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, factory(t)) })
	})
}

func doc(format string, args ...any) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(format, args...))
}

func testPutGet(t *testing.T, s store.Store) {
	require.NoError(t, s.Put("users", "ada", doc(`{"name":"Ada"}`)))

	value, err := s.Get("users", "ada")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada"}`, string(value))

	// overwrite
	require.NoError(t, s.Put("users", "ada", doc(`{"name":"Ada","year":1815}`)))
	value, err = s.Get("users", "ada")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada","year":1815}`, string(value))

	_, err = s.Get("users", "grace")
	assert.True(t, store.IsNotFound(err))
	_, err = s.Get("missing", "ada")
	assert.True(t, store.IsNotFound(err))
}

func testRemove(t *testing.T, s store.Store) {
	require.NoError(t, s.Put("users", "ada", doc(`{}`)))
	require.NoError(t, s.Remove("users", "ada"))

	_, err := s.Get("users", "ada")
	assert.True(t, store.IsNotFound(err))

	err = s.Remove("users", "ada")
	assert.Equal(t, store.RetCNotFound, store.CodeOf(err))
}

func testValidation(t *testing.T, s store.Store) {
	tests := []struct {
		name        string
		bucket, key string
		value       json.RawMessage
	}{
		{"array", "b", "k", doc(`[1,2]`)},
		{"scalar", "b", "k", doc(`42`)},
		{"broken", "b", "k", doc(`{"a":`)},
		{"empty", "b", "k", nil},
		{"no bucket", "", "k", doc(`{}`)},
		{"no key", "b", "", doc(`{}`)},
		{"slash bucket", "a/b", "k", doc(`{}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(tt.bucket, tt.key, tt.value)
			assert.Equal(t, store.RetCBadRequest, store.CodeOf(err))
		})
	}
}

func testMerge(t *testing.T, s store.Store) {
	merged, err := s.Merge("users", "ada", doc(`{"name":"Ada"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada"}`, string(merged))

	merged, err = s.Merge("users", "ada", doc(`{"year":1815}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada","year":1815}`, string(merged))

	// null removes a field
	merged, err = s.Merge("users", "ada", doc(`{"name":null}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"year":1815}`, string(merged))

	value, err := s.Get("users", "ada")
	require.NoError(t, err)
	assert.JSONEq(t, `{"year":1815}`, string(value))

	_, err = s.Merge("users", "ada", doc(`[1]`))
	assert.Equal(t, store.RetCBadRequest, store.CodeOf(err))
}

func testBuckets(t *testing.T, s store.Store) {
	names, err := s.Buckets()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Put("b", "1", doc(`{}`)))
	require.NoError(t, s.Put("a", "1", doc(`{}`)))
	require.NoError(t, s.Put("c", "1", doc(`{}`)))

	names, err = s.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	require.NoError(t, s.RemoveBucket("b"))
	require.NoError(t, s.RemoveBucket("never-existed"))
	names, err = s.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, names)

	_, err = s.Get("b", "1")
	assert.True(t, store.IsNotFound(err))

	// a bucket whose last document was removed is not listed
	require.NoError(t, s.Remove("c", "1"))
	names, err = s.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func testRange(t *testing.T, s store.Store) {
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put("nums", fmt.Sprintf("k%02d", i), doc(`{"n":%d}`, i)))
	}

	keys := func(entries []store.Entry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Key
		}
		return out
	}

	entries, err := s.Range("nums", "k03", "k06", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"k03", "k04", "k05"}, keys(entries))
	assert.JSONEq(t, `{"n":3}`, string(entries[0].Value))

	entries, err = s.Range("nums", "k07", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"k07", "k08", "k09"}, keys(entries))

	entries, err = s.Range("nums", "", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"k00", "k01"}, keys(entries))

	entries, err = s.Range("missing", "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testScan(t *testing.T, s store.Store) {
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put("letters", k, doc(`{"v":"%s"}`, k)))
	}

	var seen []string
	require.NoError(t, s.Scan("letters", func(key string, _ json.RawMessage) bool {
		seen = append(seen, key)
		return true
	}))
	assert.Equal(t, []string{"a", "b", "c"}, seen)

	// early stop
	seen = nil
	require.NoError(t, s.Scan("letters", func(key string, _ json.RawMessage) bool {
		seen = append(seen, key)
		return false
	}))
	assert.Equal(t, []string{"a"}, seen)

	require.NoError(t, s.Scan("missing", func(string, json.RawMessage) bool {
		t.Fatal("callback on missing bucket")
		return false
	}))
}

func testFlush(t *testing.T, s store.Store) {
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put("a", fmt.Sprintf("%02d", i), doc(`{}`)))
		require.NoError(t, s.Put("b", fmt.Sprintf("%02d", i), doc(`{}`)))
	}

	// evict odd keys of bucket a and everything of bucket b
	condition := store.FlushConditionFunc(func(bucket, key string) bool {
		return bucket == "b" || (key[1]-'0')%2 == 1
	})

	evicted, err := s.Flush(store.SequentialFlush{}, condition)
	require.NoError(t, err)
	assert.Equal(t, 30, evicted)

	entries, err := s.Range("a", "", "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	names, err := s.Buckets()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func testBackup(t *testing.T, source, target store.Store) {
	require.NoError(t, source.Put("users", "ada", doc(`{"name":"Ada"}`)))
	require.NoError(t, source.Put("users", "grace", doc(`{"name":"Grace"}`)))
	require.NoError(t, source.Put("langs", "go", doc(`{"year":2009}`)))

	var buf bytes.Buffer
	require.NoError(t, source.Export(&buf))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	n, err := target.Import(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	value, err := target.Get("langs", "go")
	require.NoError(t, err)
	assert.JSONEq(t, `{"year":2009}`, string(value))

	_, err = target.Import(strings.NewReader(`{"bucket":"x","key":"y","value":{}}` + "\nnot json\n"))
	assert.Equal(t, store.RetCBadRequest, store.CodeOf(err))
}

func testConcurrent(t *testing.T, s store.Store) {
	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				assert.NoError(t, s.Put("shared", key, doc(`{"w":%d}`, w)))
				_, err := s.Merge("counters", fmt.Sprintf("w%d", w), doc(`{"last":%d}`, i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := s.Range("shared", "", "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, workers*perWorker)

	for w := 0; w < workers; w++ {
		value, err := s.Get("counters", fmt.Sprintf("w%d", w))
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"last":%d}`, perWorker-1), string(value))
	}
}
