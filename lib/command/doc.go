// Package command implements the closed set of request kinds a node understands.
//
// Every kind has a Command with two entry points:
//
//   - ExecuteOnRouter decides where the request runs. Single-key kinds (get, put,
//     remove, lock-acquire, lock-release) are forwarded with their id to the owner
//     of the key. Multi-key kinds (bulk-get, bulk-put, bulk-remove, import) are
//     split by owner and every owner receives a sub-request with a fresh id and
//     only its keys. Scans (range, query, map, reduce, buckets, export) go to every
//     node of the local cluster and the partial results are merged. remove-bucket
//     goes to every node of every cluster and succeeds if at least one node per
//     cluster succeeds. membership is answered locally.
//   - ExecuteOnStore runs the request against the local store. Writes to single
//     documents hold the document's lock from the lock manager.
//
// Failures never escape as Go errors: they become responses whose error code
// classifies them (see ErrorCodeOf). Fan-out failures are aggregated with
// go-multierror.
//
// map and reduce use named functions instead of a query language. Mappers:
// identity, keys, field:<name>. Reducers: count, sum:<field>, min:<field>,
// max:<field>, stats:<field>.
package command
