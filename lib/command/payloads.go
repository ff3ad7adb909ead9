package command

import (
	"encoding/json"

	"github.com/ValentinKolb/dDoc/lib/store"
)

// --------------------------------------------------------------------------
// Single Documents
// --------------------------------------------------------------------------

// KeyPayload addresses one document (get, remove). OwnerID lets the holder of the
// document lock remove it.
type KeyPayload struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	OwnerID string `json:"owner_id,omitempty"`
}

// PutPayload stores or merges one document. The result is the stored document.
// OwnerID lets the holder of the document lock write it.
type PutPayload struct {
	Bucket  string          `json:"bucket"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Merge   bool            `json:"merge,omitempty"`
	OwnerID string          `json:"owner_id,omitempty"`
}

// --------------------------------------------------------------------------
// Bulk Operations
// --------------------------------------------------------------------------

// BulkKeysPayload addresses several documents of a bucket (bulk-get, bulk-remove).
// bulk-get results are a map of the found documents, bulk-remove results are the
// removed keys.
type BulkKeysPayload struct {
	Bucket  string   `json:"bucket"`
	Keys    []string `json:"keys"`
	OwnerID string   `json:"owner_id,omitempty"`
}

// BulkPutPayload stores several documents of a bucket. The result is the number of
// stored documents.
type BulkPutPayload struct {
	Bucket  string        `json:"bucket"`
	Entries []store.Entry `json:"entries"`
	Merge   bool          `json:"merge,omitempty"`
	OwnerID string        `json:"owner_id,omitempty"`
}

// --------------------------------------------------------------------------
// Scans
// --------------------------------------------------------------------------

// RangePayload selects documents with From <= key < To. The result is a key ordered
// list of entries.
type RangePayload struct {
	Bucket string `json:"bucket"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// QueryPayload selects documents whose top-level Field equals Value
type QueryPayload struct {
	Bucket string          `json:"bucket"`
	Field  string          `json:"field"`
	Value  json.RawMessage `json:"value"`
	Limit  int             `json:"limit,omitempty"`
}

// MapPayload applies a named mapper to every document of a bucket. The result is a
// key ordered list of entries holding the mapped values.
type MapPayload struct {
	Bucket string `json:"bucket"`
	Mapper string `json:"mapper,omitempty"`
}

// ReducePayload maps every document of a bucket and reduces the mapped values with
// a named reducer. The result is the reduced value.
type ReducePayload struct {
	Bucket  string `json:"bucket"`
	Mapper  string `json:"mapper,omitempty"`
	Reducer string `json:"reducer"`
}

// BucketPayload addresses a whole bucket (remove-bucket)
type BucketPayload struct {
	Bucket string `json:"bucket"`
}

// --------------------------------------------------------------------------
// Backups
// --------------------------------------------------------------------------

// BackupPayload carries backup lines (import payload, export result)
type BackupPayload struct {
	Backup    string `json:"backup"`
	Documents int    `json:"documents,omitempty"`
}

// --------------------------------------------------------------------------
// Locks
// --------------------------------------------------------------------------

// LockPayload acquires (LeaseMillis) or releases (OwnerID) the lock of one document
type LockPayload struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	LeaseMillis int64  `json:"lease_millis,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

// LockResult reports the outcome of lock-acquire and lock-release
type LockResult struct {
	Ok      bool   `json:"ok"`
	OwnerID string `json:"owner_id,omitempty"`
}
