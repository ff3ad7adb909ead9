package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener for endpoint
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	config            common.TransportConfig
	handler           transport.ServerHandleFunc
	listener          net.Listener
	bufferPool        *sync.Pool
	maxWorkersPerConn int
	writeTimeout      time.Duration

	conns  *xsync.MapOf[net.Conn, struct{}]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, config common.TransportConfig, writeTimeout time.Duration) transport.IRPCServerTransport {
	// minimum one worker per connection
	workers := max(config.WorkersPerConn, 1)
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &serverTransport{
		connector:         connector,
		config:            config,
		maxWorkersPerConn: workers,
		writeTimeout:      writeTimeout,
		conns:             xsync.NewMapOf[net.Conn, struct{}](),
		ctx:               ctx,
		cancel:            cancel,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(endpoint string) (net.Addr, error) {
	if t.handler == nil {
		return nil, fmt.Errorf("no handler registered")
	}

	listener, err := t.connector.Listen(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.maxWorkersPerConn)

	t.wg.Add(1)
	go t.acceptLoop()
	return listener.Addr(), nil
}

func (t *serverTransport) Close() error {
	t.cancel()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		t.conns.Store(conn, struct{}{})
		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer t.conns.Delete(conn)
	defer conn.Close()

	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)
	var workers sync.WaitGroup
	var writeMu sync.Mutex

	respond := func(frame []byte, buf []byte) {
		defer func() {
			t.bufferPool.Put(buf[:cap(buf)])
			<-workerSemaphore
			workers.Done()
		}()

		start := time.Now()
		resp := t.handler(t.ctx, frame)
		Logger.Debugf("Processed frame from %s in %s", conn.RemoteAddr(), time.Since(start))

		writeMu.Lock()
		defer writeMu.Unlock()
		if t.writeTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeFrame(conn, resp); err != nil {
			Logger.Errorf("Failed to write response to %s: %v", conn.RemoteAddr(), err)
		}
	}

	for {
		buf := t.bufferPool.Get().([]byte)
		frame, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			switch {
			case errors.Is(err, io.EOF):
				Logger.Debugf("Connection closed by %s", conn.RemoteAddr())
			case t.ctx.Err() != nil:
			default:
				Logger.Warningf("Error reading from %s: %v", conn.RemoteAddr(), err)
			}
			break
		}
		// a frame larger than the pooled buffer got its own allocation
		if cap(frame) != cap(buf) {
			t.bufferPool.Put(buf)
			buf = frame
		}

		// blocks if maxWorkersPerConn is reached
		workerSemaphore <- struct{}{}
		workers.Add(1)
		go respond(frame, buf)
	}

	// in-flight handlers still answer before the connection is closed
	workers.Wait()
}
