package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var errDisconnected = errors.New("disconnected")

// waiter is a call waiting for its response on conn
type waiter struct {
	conn   transport.IConn
	respCh chan *common.Response
}

// RemoteNode forwards requests to a peer over a frame connection. Every call gets
// a fresh correlation id; a single reader goroutine matches responses against the
// table of waiting callers.
type RemoteNode struct {
	member     cluster.Member
	sender     string
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	timeout    time.Duration

	// mu guards the connection state, never held while dialling or waiting for a response
	mu        sync.Mutex
	conn      transport.IConn
	readerEnd chan struct{}
	// wanted is set by Connect and cleared by Disconnect; a broken connection of a
	// wanted node is re-established by the next Send
	wanted bool
	// dials lets concurrent callers share one connection attempt
	dials singleflight.Group

	waiters *xsync.MapOf[string, waiter]

	sent     *metrics.Counter
	failed   *metrics.Counter
	timedOut *metrics.Counter
}

// NewRemoteNode creates a disconnected proxy for member. sender is the name this
// process puts on every request.
func NewRemoteNode(member cluster.Member, sender string, t transport.IRPCClientTransport, s serializer.IRPCSerializer, timeout time.Duration) *RemoteNode {
	return &RemoteNode{
		member:     member,
		sender:     sender,
		transport:  t,
		serializer: s,
		timeout:    timeout,
		waiters:    xsync.NewMapOf[string, waiter](),
		sent:       metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_remote_requests_total{node=%q}`, member.Name)),
		failed:     metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_remote_failures_total{node=%q}`, member.Name)),
		timedOut:   metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_remote_timeouts_total{node=%q}`, member.Name)),
	}
}

// NewRemoteFactory returns a Factory creating remote nodes with shared settings
func NewRemoteFactory(sender string, t transport.IRPCClientTransport, s serializer.IRPCSerializer, timeout time.Duration) Factory {
	return func(member cluster.Member) Node {
		return NewRemoteNode(member, sender, t, s, timeout)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see node.Node)
// --------------------------------------------------------------------------

func (n *RemoteNode) Name() string           { return n.member.Name }
func (n *RemoteNode) Member() cluster.Member { return n.member }
func (n *RemoteNode) IsLocal() bool          { return false }

func (n *RemoteNode) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}

func (n *RemoteNode) Connect(ctx context.Context) error {
	n.mu.Lock()
	n.wanted = true
	n.mu.Unlock()
	_, err := n.dial(ctx)
	return err
}

func (n *RemoteNode) Disconnect() error {
	n.mu.Lock()
	n.wanted = false
	conn, readerEnd := n.conn, n.readerEnd
	n.conn, n.readerEnd = nil, nil
	n.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		<-readerEnd
	}
	// the reader already failed its waiters, this covers calls that registered after it exited
	n.failWaiters(nil, errDisconnected)
	return err
}

func (n *RemoteNode) Send(ctx context.Context, req *common.Request) *common.Response {
	n.sent.Inc()

	conn, err := n.connection(ctx)
	if err != nil {
		n.failed.Inc()
		return common.NewErrorResponse(req.ID, common.ErrCCommunication, "node %s unreachable: %v", n.member.Name, err)
	}

	// copy, the caller's request may be sent to several nodes concurrently
	msg := *req
	msg.CorrelationID = uuid.NewString()
	msg.Sender = n.sender

	data, err := n.serializer.EncodeRequest(&msg)
	if err != nil {
		n.failed.Inc()
		return common.NewErrorResponse(msg.CorrelationID, common.ErrCBadRequest, "failed to encode request: %v", err)
	}

	respCh := make(chan *common.Response, 1)
	n.waiters.Store(msg.CorrelationID, waiter{conn: conn, respCh: respCh})
	defer n.waiters.Delete(msg.CorrelationID)

	if err := conn.WriteFrame(data); err != nil {
		n.failed.Inc()
		n.dropConnection(conn)
		return common.NewErrorResponse(msg.CorrelationID, common.ErrCCommunication, "failed to send to %s: %v", n.member.Name, err)
	}

	var timeoutCh <-chan time.Time
	if n.timeout > 0 {
		timer := time.NewTimer(n.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-respCh:
		if !resp.IsOk() {
			n.failed.Inc()
		}
		return resp
	case <-timeoutCh:
		n.timedOut.Inc()
		return common.NewErrorResponse(msg.CorrelationID, common.ErrCInternal, "request %s to %s timed out after %s", msg.ID, n.member.Name, n.timeout)
	case <-ctx.Done():
		n.failed.Inc()
		return common.NewErrorResponse(msg.CorrelationID, common.ErrCInternal, "request %s to %s canceled: %v", msg.ID, n.member.Name, ctx.Err())
	}
}

// Pending returns the number of calls waiting for a response
func (n *RemoteNode) Pending() int {
	return n.waiters.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connection returns the current connection, reconnecting a wanted node
func (n *RemoteNode) connection(ctx context.Context) (transport.IConn, error) {
	n.mu.Lock()
	conn, wanted := n.conn, n.wanted
	n.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	if !wanted {
		return nil, errDisconnected
	}
	return n.dial(ctx)
}

// dial connects to the member without holding mu. Concurrent callers wait for the
// attempt in flight; a caller whose ctx ends stops waiting without canceling it.
func (n *RemoteNode) dial(ctx context.Context) (transport.IConn, error) {
	result := n.dials.DoChan("dial", func() (any, error) {
		n.mu.Lock()
		current := n.conn
		n.mu.Unlock()
		if current != nil {
			return current, nil
		}

		dialCtx := context.WithoutCancel(ctx)
		if n.timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(dialCtx, n.timeout)
			defer cancel()
		}
		conn, err := n.transport.Dial(dialCtx, n.member.Address())
		if err != nil {
			return nil, err
		}

		n.mu.Lock()
		defer n.mu.Unlock()
		if !n.wanted {
			// disconnected while dialling
			_ = conn.Close()
			return nil, errDisconnected
		}
		n.conn = conn
		n.readerEnd = make(chan struct{})
		go n.readResponses(conn, n.readerEnd)

		Logger.Infof("Connected to %s", n.member)
		return conn, nil
	})

	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(transport.IConn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dropConnection forgets conn if it is still the current connection
func (n *RemoteNode) dropConnection(conn transport.IConn) {
	n.mu.Lock()
	if n.conn == conn {
		n.conn = nil
		n.readerEnd = nil
	}
	n.mu.Unlock()
	_ = conn.Close()
}

// readResponses distributes responses to waiting callers until the connection fails
func (n *RemoteNode) readResponses(conn transport.IConn, done chan struct{}) {
	defer close(done)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			n.mu.Lock()
			wanted := n.wanted && n.conn == conn
			n.mu.Unlock()
			if wanted {
				Logger.Warningf("Connection to %s lost: %v", n.member, err)
			}
			n.dropConnection(conn)
			n.failWaiters(conn, err)
			return
		}

		resp, err := n.serializer.DecodeResponse(frame)
		if err != nil {
			Logger.Errorf("Failed to decode response from %s: %v", n.member, err)
			continue
		}

		if w, found := n.waiters.LoadAndDelete(resp.CorrelationID); found {
			w.respCh <- resp
		} else {
			// caller gave up (timeout) before the response arrived
			Logger.Debugf("Dropping response %s from %s without waiter", resp.CorrelationID, n.member)
		}
	}
}

// failWaiters resolves the pending calls sent over conn with a communication error,
// a nil conn resolves all of them
func (n *RemoteNode) failWaiters(conn transport.IConn, cause error) {
	n.waiters.Range(func(id string, w waiter) bool {
		if conn != nil && w.conn != conn {
			return true
		}
		if _, ok := n.waiters.LoadAndDelete(id); ok {
			w.respCh <- common.NewErrorResponse(id, common.ErrCCommunication, "connection to %s closed: %v", n.member.Name, cause)
		}
		return true
	})
}
