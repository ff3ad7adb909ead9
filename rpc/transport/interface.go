package transport

import (
	"context"
	"net"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles one request frame and returns the response frame.
// It is called concurrently for frames of the same connection.
type ServerHandleFunc func(ctx context.Context, req []byte) (resp []byte)

// IRPCServerTransport accepts connections and serves request frames
type IRPCServerTransport interface {
	// RegisterHandler sets the handler for incoming frames. Must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds endpoint and starts accepting connections in the background.
	// It returns the bound address.
	Listen(endpoint string) (net.Addr, error)
	// Close stops accepting, closes all connections and waits for running handlers.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IConn is a duplex stream of frames. Writes may be called concurrently,
// reads only from a single goroutine.
type IConn interface {
	WriteFrame(data []byte) error
	ReadFrame() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// IRPCClientTransport opens connections to peers
type IRPCClientTransport interface {
	// Dial connects to endpoint
	Dial(ctx context.Context, endpoint string) (IConn, error)
	// Name returns the transport kind, e.g. "tcp"
	Name() string
}
