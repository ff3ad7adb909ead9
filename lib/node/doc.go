// Package node implements the two kinds of routable peers.
//
//   - LocalNode runs requests in-process through a Handler bound to the local
//     store. Panics in the handler become internal-error responses.
//
//   - RemoteNode serializes requests onto a frame connection to a peer. Each call
//     is registered under a fresh correlation id in a concurrent waiter table
//     before the frame is written, and a single reader goroutine hands responses to
//     the matching waiter. A call that gets no response within the configured
//     timeout returns an internal-error response. When the connection closes, every
//     pending call resolves with a communication error, so no caller blocks past
//     Disconnect.
//
// Send never returns nil and never returns a Go error: every failure is a
// response with an error code, so routing code can treat local and remote nodes
// alike.
package node
