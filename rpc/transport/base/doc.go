// Package base implements the transport independent parts of the frame
// transport. Protocol specific packages (tcp, unix) only provide connectors that
// dial, listen and tune sockets.
//
// Frame format:
//
//	4 bytes  payload length (uint32, big endian)
//	N bytes  payload
//
// Header and payload are written with a single net.Buffers write.
//
// Server side, every connection gets a reader goroutine and a counting semaphore
// that bounds the handlers running concurrently for that connection. Read
// buffers come from a sync.Pool. Responses are written under a per-connection
// mutex in the order handlers finish.
//
// Client side, Conn serializes writes with a mutex and expects a single reader.
package base
