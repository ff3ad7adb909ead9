// Package cmd implements the command-line interface of dDoc. It provides a
// hierarchical command structure with operations for running a node and
// interacting with a cluster as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures a dDoc node
//   - doc: Document operations (get, put, merge, range, query, reduce, backups, ...)
//   - lock: Document lock operations (acquire, release)
//   - ensemble: Inspection of cluster membership
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ddoc -help for a list of all commands.
package cmd
