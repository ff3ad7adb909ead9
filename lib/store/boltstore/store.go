package boltstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	bolt "go.etcd.io/bbolt"
)

var errStop = errors.New("stop")

type storeImpl struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bolt file at path
func NewBoltStore(path string) (store.Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, "failed to open %s: %v", path, err)
	}
	return &storeImpl{db: db}, nil
}

func notFound(bucket, key string) error {
	return store.NewError(store.RetCNotFound, "no document %s/%s", bucket, key)
}

func internal(err error) error {
	var storeErr *store.Error
	if err == nil || errors.As(err, &storeErr) {
		return err
	}
	return store.NewError(store.RetCInternalError, "%v", err)
}

func clone(b []byte) json.RawMessage {
	return append(json.RawMessage(nil), b...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.Store)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(bucketName, key string) (json.RawMessage, error) {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return notFound(bucketName, key)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return notFound(bucketName, key)
		}
		value = clone(v)
		return nil
	})
	return value, internal(err)
}

func (s *storeImpl) Put(bucketName, key string, value json.RawMessage) error {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return err
	}
	if err := store.ValidateDocument(value); err != nil {
		return err
	}
	return internal(s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	}))
}

func (s *storeImpl) Merge(bucketName, key string, patch json.RawMessage) (json.RawMessage, error) {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return nil, err
	}
	var merged json.RawMessage
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		merged, err = store.MergeDocuments(b.Get([]byte(key)), patch)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), merged)
	})
	if err != nil {
		return nil, internal(err)
	}
	return merged, nil
}

func (s *storeImpl) Remove(bucketName, key string) error {
	if err := store.ValidateAddress(bucketName, key); err != nil {
		return err
	}
	return internal(s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil || b.Get([]byte(key)) == nil {
			return notFound(bucketName, key)
		}
		return b.Delete([]byte(key))
	}))
}

func (s *storeImpl) Buckets() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if k, _ := b.Cursor().First(); k != nil {
				names = append(names, string(name))
			}
			return nil
		})
	})
	return names, internal(err)
}

func (s *storeImpl) RemoveBucket(bucketName string) error {
	if bucketName == "" {
		return store.NewError(store.RetCBadRequest, "bucket must not be empty")
	}
	return internal(s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(bucketName))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	}))
}

func (s *storeImpl) Range(bucketName, from, to string, limit int) ([]store.Entry, error) {
	if bucketName == "" {
		return nil, store.NewError(store.RetCBadRequest, "bucket must not be empty")
	}
	var entries []store.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek([]byte(from)); k != nil; k, v = c.Next() {
			if to != "" && bytes.Compare(k, []byte(to)) >= 0 {
				break
			}
			entries = append(entries, store.Entry{Key: string(k), Value: clone(v)})
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, internal(err)
}

func (s *storeImpl) Scan(bucketName string, fn func(key string, value json.RawMessage) bool) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if !fn(string(k), clone(v)) {
				return errStop
			}
			return nil
		})
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return internal(err)
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
	return internal(s.db.Close())
}
