// Package memstore implements store.Store in memory. Every bucket is an ordered
// skip list, so range queries and scans return keys in ascending order without
// sorting. Reads are lock-free; writes that read before they write (Merge) and
// bucket removal serialize on a store-wide mutex.
//
// The store is lost when the process exits; use boltstore for persistence.
package memstore
