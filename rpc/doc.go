// Package rpc is the communication layer of dDoc. Nodes talk to each other and clients
// talk to nodes through the same framed request/response protocol.
//
// The package is organized into several subpackages:
//
//   - common: The Request/Response envelopes, command kinds, error codes,
//     configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets).
//
//   - serializer: Envelope serialization (JSON, GOB) for converting between
//     envelopes and byte arrays.
//
//   - client: The RPC client sending routed requests to any node of a cluster.
//
//   - server: The RPC server decoding requests, deduplicating retries and handing
//     them to the coordinator of the node.
//
//   - admin: The read only operational HTTP API (health, cluster state, metrics).
package rpc
