// Package common provides the data structures shared by every part of the dDoc
// RPC layer.
//
// Key Components:
//
//   - Request / Response: the envelopes of the command protocol. A request carries
//     a command id, the sender, the operation Kind, whether it still has to be
//     routed, and a JSON payload. A response carries the id of the request it
//     answers, an optional ErrorCode with message, and a JSON result.
//
//   - Kind: the closed set of operations (single and bulk document operations,
//     range and predicate queries, map/reduce, membership, bucket management,
//     backups and locks). Kinds serialize as their names.
//
//   - NodeConfig / ClientConfig: configuration of a server node and of the command
//     line client, with sectioned String() output for startup logs.
//
//   - Logger: a dragonboat logger.Factory backed by zap, so every package can
//     declare `var Logger = logger.GetLogger("name")`.
package common
