// Package boltstore implements store.Store on a single bbolt file. Every document
// bucket is a bolt bucket of the same name; bolt keeps keys sorted, so Range seeks
// with a cursor.
//
// Writes run in bolt update transactions and are therefore serialized; reads run
// in concurrent view transactions. Values returned by the store are copies and
// stay valid after the transaction ends.
package boltstore
