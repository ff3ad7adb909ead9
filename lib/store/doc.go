// Package store defines the node-local document storage of dDoc.
//
// Every node holds the documents whose keys the router assigns to it. Documents
// are JSON objects grouped into buckets. The Store interface is what commands
// execute against once they reached the owning node.
//
// Key Components:
//
//   - Store: the storage contract. All failures are *Error values carrying a
//     RetCode (not found, conflict, bad request, internal) which the command layer
//     maps onto wire error codes.
//
//   - FlushStrategy / FlushCondition: after a membership change the coordinator
//     flushes the store with a condition that matches every key the local node no
//     longer owns. SequentialFlush visits one bucket at a time.
//
//   - Backups: WriteBackup and ReadBackup stream documents as JSON lines
//     ({"bucket":..,"key":..,"value":..}), shared by all engines.
//
// Implementations:
//
//   - memstore: ordered in-memory buckets on skip lists.
//   - boltstore: persistent buckets in a bbolt file.
//
// Both pass the conformance suite in the testing package.
package store
