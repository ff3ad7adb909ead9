package base

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// -----------------------------------------------------------
// Connection
// -----------------------------------------------------------

// Conn is a framed client connection
type Conn struct {
	conn         net.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	readBuf      []byte
}

// NewConn wraps an established connection. writeTimeout <= 0 disables write deadlines.
func NewConn(conn net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{conn: conn, writeTimeout: writeTimeout}
}

func (c *Conn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return writeFrame(c.conn, data)
}

// ReadFrame returns a frame that is valid until the next call
func (c *Conn) ReadFrame() ([]byte, error) {
	frame, err := readFrame(c.conn, c.readBuf)
	if err != nil {
		return nil, err
	}
	if cap(frame) > cap(c.readBuf) {
		c.readBuf = frame[:0]
	}
	return frame, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// clientTransport dials connections with a connector
type clientTransport struct {
	connector    IClientConnector
	config       common.TransportConfig
	writeTimeout time.Duration
}

// NewBaseClientTransport creates a client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector, config common.TransportConfig, writeTimeout time.Duration) transport.IRPCClientTransport {
	return &clientTransport{
		connector:    connector,
		config:       config,
		writeTimeout: writeTimeout,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Name() string {
	return t.connector.GetName()
}

func (t *clientTransport) Dial(ctx context.Context, endpoint string) (transport.IConn, error) {
	conn, err := t.connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	Logger.Debugf("Connected to %s using %s transport", endpoint, t.connector.GetName())
	return NewConn(conn, t.writeTimeout), nil
}
