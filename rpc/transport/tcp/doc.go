// Package tcp implements the frame transport over TCP sockets. It only provides
// connectors; framing, worker pools and buffer reuse come from the base package.
//
// Accepted and dialed connections are tuned from the transport config:
// TCP_NODELAY, keep-alive period, linger and socket buffer sizes.
//
// The default server read buffer is 512 KB.
package tcp
