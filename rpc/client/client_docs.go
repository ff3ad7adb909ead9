package client

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/command"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// --------------------------------------------------------------------------
// Single Documents
// --------------------------------------------------------------------------

// Get returns the document stored under bucket/key
func (c *Client) Get(ctx context.Context, bucket, key string) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.invoke(ctx, common.KindGet, command.KeyPayload{Bucket: bucket, Key: key}, &doc)
	return doc, err
}

// Put stores a document and returns it as stored
func (c *Client) Put(ctx context.Context, bucket, key string, value json.RawMessage) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.invoke(ctx, common.KindPut, command.PutPayload{Bucket: bucket, Key: key, Value: value, OwnerID: c.ownerID}, &doc)
	return doc, err
}

// Merge merges the top-level fields of patch into a document and returns the result
func (c *Client) Merge(ctx context.Context, bucket, key string, patch json.RawMessage) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.invoke(ctx, common.KindPut, command.PutPayload{Bucket: bucket, Key: key, Value: patch, Merge: true, OwnerID: c.ownerID}, &doc)
	return doc, err
}

// Remove deletes a document
func (c *Client) Remove(ctx context.Context, bucket, key string) error {
	return c.invoke(ctx, common.KindRemove, command.KeyPayload{Bucket: bucket, Key: key, OwnerID: c.ownerID}, nil)
}

// --------------------------------------------------------------------------
// Bulk Operations
// --------------------------------------------------------------------------

// BulkGet returns the found documents of keys
func (c *Client) BulkGet(ctx context.Context, bucket string, keys []string) (map[string]json.RawMessage, error) {
	found := map[string]json.RawMessage{}
	err := c.invoke(ctx, common.KindBulkGet, command.BulkKeysPayload{Bucket: bucket, Keys: keys}, &found)
	return found, err
}

// BulkPut stores documents and returns how many were stored
func (c *Client) BulkPut(ctx context.Context, bucket string, docs map[string]json.RawMessage) (int, error) {
	entries := make([]store.Entry, 0, len(docs))
	for key, value := range docs {
		entries = append(entries, store.Entry{Key: key, Value: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	var stored int
	err := c.invoke(ctx, common.KindBulkPut, command.BulkPutPayload{Bucket: bucket, Entries: entries, OwnerID: c.ownerID}, &stored)
	return stored, err
}

// BulkRemove deletes documents and returns the keys that existed
func (c *Client) BulkRemove(ctx context.Context, bucket string, keys []string) ([]string, error) {
	var removed []string
	err := c.invoke(ctx, common.KindBulkRemove, command.BulkKeysPayload{Bucket: bucket, Keys: keys, OwnerID: c.ownerID}, &removed)
	return removed, err
}

// --------------------------------------------------------------------------
// Scans
// --------------------------------------------------------------------------

// Range returns the documents with from <= key < to in key order. An empty to is
// unbounded, limit <= 0 returns everything.
func (c *Client) Range(ctx context.Context, bucket, from, to string, limit int) ([]store.Entry, error) {
	var entries []store.Entry
	err := c.invoke(ctx, common.KindRange, command.RangePayload{Bucket: bucket, From: from, To: to, Limit: limit}, &entries)
	return entries, err
}

// Query returns the documents whose top-level field equals value
func (c *Client) Query(ctx context.Context, bucket, field string, value json.RawMessage, limit int) ([]store.Entry, error) {
	var entries []store.Entry
	err := c.invoke(ctx, common.KindQuery, command.QueryPayload{Bucket: bucket, Field: field, Value: value, Limit: limit}, &entries)
	return entries, err
}

// Map applies a named mapper to every document of a bucket
func (c *Client) Map(ctx context.Context, bucket, mapper string) ([]store.Entry, error) {
	var entries []store.Entry
	err := c.invoke(ctx, common.KindMap, command.MapPayload{Bucket: bucket, Mapper: mapper}, &entries)
	return entries, err
}

// Reduce maps every document of a bucket and reduces the mapped values
func (c *Client) Reduce(ctx context.Context, bucket, mapper, reducer string) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.invoke(ctx, common.KindReduce, command.ReducePayload{Bucket: bucket, Mapper: mapper, Reducer: reducer}, &result)
	return result, err
}

// --------------------------------------------------------------------------
// Buckets, Backups and Membership
// --------------------------------------------------------------------------

// Buckets lists the non-empty buckets of the cluster
func (c *Client) Buckets(ctx context.Context) ([]string, error) {
	var buckets []string
	err := c.invoke(ctx, common.KindBuckets, struct{}{}, &buckets)
	return buckets, err
}

// RemoveBucket drops a bucket in every cluster of the ensemble
func (c *Client) RemoveBucket(ctx context.Context, bucket string) error {
	return c.invoke(ctx, common.KindRemoveBucket, command.BucketPayload{Bucket: bucket}, nil)
}

// Export returns the backup lines of every document of the cluster and their number
func (c *Client) Export(ctx context.Context) (string, int, error) {
	var backup command.BackupPayload
	err := c.invoke(ctx, common.KindExport, struct{}{}, &backup)
	return backup.Backup, backup.Documents, err
}

// Import stores the documents of backup lines and returns how many were imported
func (c *Client) Import(ctx context.Context, backup string) (int, error) {
	var imported int
	err := c.invoke(ctx, common.KindImport, command.BackupPayload{Backup: backup}, &imported)
	return imported, err
}

// Members returns the view of the cluster of the connected node
func (c *Client) Members(ctx context.Context) (cluster.View, error) {
	var view cluster.View
	err := c.invoke(ctx, common.KindMembership, struct{}{}, &view)
	return view, err
}
