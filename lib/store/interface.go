package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Entry is a single document of a bucket
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is the node-local document storage. Documents are JSON objects addressed by
// bucket and key. Failing operations return a *Error.
type Store interface {
	// Get returns the document stored under bucket/key or a NotFound error.
	Get(bucket, key string) (json.RawMessage, error)
	// Put stores a document, replacing any previous one. Values must be JSON objects.
	Put(bucket, key string, value json.RawMessage) error
	// Merge merges the top-level fields of patch into the stored document and
	// returns the result. A missing document is created from patch.
	Merge(bucket, key string, patch json.RawMessage) (json.RawMessage, error)
	// Remove deletes a document. Removing a missing document is a NotFound error.
	Remove(bucket, key string) error
	// Buckets lists the names of all non-empty buckets in ascending order.
	Buckets() ([]string, error)
	// RemoveBucket drops a bucket with all of its documents. Missing buckets are ignored.
	RemoveBucket(bucket string) error
	// Range returns documents with from <= key < to in key order. An empty to is
	// unbounded and a limit <= 0 returns everything.
	Range(bucket, from, to string, limit int) ([]Entry, error)
	// Scan calls fn for every document of the bucket in key order until fn returns false.
	Scan(bucket string, fn func(key string, value json.RawMessage) bool) error
	// Flush evicts every document for which condition is satisfied using strategy.
	Flush(strategy FlushStrategy, condition FlushCondition) (evicted int, err error)
	// Export writes all documents as backup lines to w.
	Export(w io.Writer) error
	// Import reads backup lines from r and stores them. It returns the number of documents imported.
	Import(r io.Reader) (int, error)
	// Close releases the resources of the store.
	Close() error
}

// --------------------------------------------------------------------------
// Flushing
// --------------------------------------------------------------------------

// FlushCondition decides whether a local document must be evicted
type FlushCondition interface {
	IsSatisfied(bucket, key string) bool
}

// FlushConditionFunc adapts a function to FlushCondition
type FlushConditionFunc func(bucket, key string) bool

func (f FlushConditionFunc) IsSatisfied(bucket, key string) bool { return f(bucket, key) }

// FlushStrategy visits the documents of a store and evicts those matching condition
type FlushStrategy interface {
	Flush(s Store, condition FlushCondition) (evicted int, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and an error message
type Error struct {
	Code RetCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("store error (%s): %s", e.Code, e.Msg)
}

// NewError creates a new *Error
func NewError(code RetCode, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the code of a *Error in the chain of err, RetCInternalError otherwise
func CodeOf(err error) RetCode {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return RetCInternalError
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool {
	var storeErr *Error
	return errors.As(err, &storeErr) && storeErr.Code == RetCNotFound
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint8

const (
	RetCInternalError RetCode = iota + 1 // the store failed
	RetCNotFound                         // no document under the key
	RetCConflict                         // the operation conflicts with the stored state
	RetCBadRequest                       // the request is invalid, e.g. not a JSON object
)

func (c RetCode) String() string {
	switch c {
	case RetCInternalError:
		return "internal"
	case RetCNotFound:
		return "not found"
	case RetCConflict:
		return "conflict"
	case RetCBadRequest:
		return "bad request"
	default:
		return "unknown"
	}
}
