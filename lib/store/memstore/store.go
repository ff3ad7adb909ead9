package memstore

import (
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zhangyunhao116/skipmap"
)

type bucket = skipmap.FuncMap[string, json.RawMessage]

type storeImpl struct {
	buckets *xsync.MapOf[string, *bucket]
	writeMu sync.Mutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() store.Store {
	return &storeImpl{
		buckets: xsync.NewMapOf[string, *bucket](),
	}
}

func newBucket() *bucket {
	return skipmap.NewFunc[string, json.RawMessage](func(a, b string) bool {
		return a < b
	})
}

// bucketFor returns the bucket, creating it when create is set
func (s *storeImpl) bucketFor(name string, create bool) *bucket {
	if !create {
		b, _ := s.buckets.Load(name)
		return b
	}
	b, _ := s.buckets.LoadOrCompute(name, newBucket)
	return b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.Store)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(bucketName, key string) (json.RawMessage, error) {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return nil, err
	}
	b := s.bucketFor(bucketName, false)
	if b == nil {
		return nil, store.NewError(store.RetCNotFound, "no document %s/%s", bucketName, key)
	}
	value, ok := b.Load(key)
	if !ok {
		return nil, store.NewError(store.RetCNotFound, "no document %s/%s", bucketName, key)
	}
	return value, nil
}

func (s *storeImpl) Put(bucketName, key string, value json.RawMessage) error {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return err
	}
	if err := store.ValidateDocument(value); err != nil {
		return err
	}
	// copy, the caller may reuse the buffer
	doc := append(json.RawMessage(nil), value...)
	s.bucketFor(bucketName, true).Store(key, doc)
	return nil
}

func (s *storeImpl) Merge(bucketName, key string, patch json.RawMessage) (json.RawMessage, error) {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b := s.bucketFor(bucketName, true)
	current, _ := b.Load(key)
	merged, err := store.MergeDocuments(current, patch)
	if err != nil {
		return nil, err
	}
	b.Store(key, merged)
	return merged, nil
}

func (s *storeImpl) Remove(bucketName, key string) error {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return err
	}
	b := s.bucketFor(bucketName, false)
	if b == nil {
		return store.NewError(store.RetCNotFound, "no document %s/%s", bucketName, key)
	}
	if _, ok := b.LoadAndDelete(key); !ok {
		return store.NewError(store.RetCNotFound, "no document %s/%s", bucketName, key)
	}
	return nil
}

func (s *storeImpl) Buckets() ([]string, error) {
	var names []string
	s.buckets.Range(func(name string, b *bucket) bool {
		if b.Len() > 0 {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names, nil
}

func (s *storeImpl) RemoveBucket(bucketName string) error {
	if bucketName == "" {
		return store.NewError(store.RetCBadRequest, "bucket must not be empty")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.buckets.Delete(bucketName)
	return nil
}

func (s *storeImpl) Range(bucketName, from, to string, limit int) ([]store.Entry, error) {
	if bucketName == "" {
		return nil, store.NewError(store.RetCBadRequest, "bucket must not be empty")
	}
	b := s.bucketFor(bucketName, false)
	if b == nil {
		return nil, nil
	}

	var entries []store.Entry
	b.Range(func(key string, value json.RawMessage) bool {
		if key < from {
			return true
		}
		if to != "" && key >= to {
			return false
		}
		entries = append(entries, store.Entry{Key: key, Value: value})
		return limit <= 0 || len(entries) < limit
	})
	return entries, nil
}

func (s *storeImpl) Scan(bucketName string, fn func(key string, value json.RawMessage) bool) error {
	b := s.bucketFor(bucketName, false)
	if b == nil {
		return nil
	}
	b.Range(fn)
	return nil
}

func (s *storeImpl) Flush(strategy store.FlushStrategy, condition store.FlushCondition) (int, error) {
	return strategy.Flush(s, condition)
}

func (s *storeImpl) Export(w io.Writer) error {
	return store.WriteBackup(s, w)
}

func (s *storeImpl) Import(r io.Reader) (int, error) {
	return store.ReadBackup(s, r)
}

func (s *storeImpl) Close() error {
	s.buckets.Clear()
	return nil
}
