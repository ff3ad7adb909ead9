package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPeer serves frames with handler and returns the member to dial
func startPeer(t *testing.T, handler func(req *common.Request) *common.Response) cluster.Member {
	t.Helper()
	s := serializer.NewJSONSerializer()

	server := tcp.NewTCPServerTransport(common.TransportConfig{WorkersPerConn: 64}, time.Second)
	server.RegisterHandler(func(_ context.Context, frame []byte) []byte {
		req, err := s.DecodeRequest(frame)
		require.NoError(t, err)
		resp := handler(req)
		resp.CorrelationID = req.ReplyTo()
		data, err := s.EncodeResponse(resp)
		require.NoError(t, err)
		return data
	})
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	m, err := cluster.ParseMember("peer@" + addr.String())
	require.NoError(t, err)
	return m
}

func newRemote(t *testing.T, member cluster.Member, timeout time.Duration) *RemoteNode {
	t.Helper()
	n := NewRemoteNode(member, "tester", tcp.NewTCPClientTransport(common.TransportConfig{}, time.Second), serializer.NewJSONSerializer(), timeout)
	require.NoError(t, n.Connect(context.Background()))
	t.Cleanup(func() { _ = n.Disconnect() })
	return n
}

func TestRemoteConcurrentSendsAreCorrelated(t *testing.T) {
	var mu sync.Mutex
	correlationIDs := map[string]bool{}

	member := startPeer(t, func(req *common.Request) *common.Response {
		mu.Lock()
		correlationIDs[req.CorrelationID] = true
		mu.Unlock()
		assert.Equal(t, "tester", req.Sender)

		// answer out of order
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		return &common.Response{Result: req.Payload}
	})
	n := newRemote(t, member, 5*time.Second)

	const calls = 100
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func(i int) {
			defer wg.Done()
			req, err := common.NewRequest(fmt.Sprintf("cmd-%d", i), common.KindGet, map[string]int{"i": i})
			require.NoError(t, err)

			resp := n.Send(context.Background(), req)
			require.True(t, resp.IsOk(), resp.ErrorMessage)

			var got map[string]int
			require.NoError(t, json.Unmarshal(resp.Result, &got))
			assert.Equal(t, i, got["i"])
		}(i)
	}
	wg.Wait()

	assert.Len(t, correlationIDs, calls)
	assert.Equal(t, 0, n.Pending())
}

func TestRemoteTimeoutReturnsInternalError(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	member := startPeer(t, func(req *common.Request) *common.Response {
		if req.ID == "slow" {
			<-release
		}
		return &common.Response{}
	})
	n := newRemote(t, member, 100*time.Millisecond)

	start := time.Now()
	resp := n.Send(context.Background(), &common.Request{ID: "slow", Kind: common.KindGet})
	assert.Equal(t, common.ErrCInternal, resp.ErrorCode)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, n.Pending())

	// the proxy still works for other calls
	resp = n.Send(context.Background(), &common.Request{ID: "fast", Kind: common.KindGet})
	assert.True(t, resp.IsOk(), resp.ErrorMessage)
}

func TestRemoteDisconnectResolvesPendingCalls(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	member := startPeer(t, func(req *common.Request) *common.Response {
		<-release
		return &common.Response{}
	})
	n := newRemote(t, member, 0)

	done := make(chan *common.Response, 1)
	go func() {
		done <- n.Send(context.Background(), &common.Request{ID: "blocked", Kind: common.KindGet})
	}()

	require.Eventually(t, func() bool { return n.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, n.Disconnect())

	select {
	case resp := <-done:
		assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not resolve after disconnect")
	}
	assert.False(t, n.IsConnected())

	// a disconnected proxy fails fast
	resp := n.Send(context.Background(), &common.Request{ID: "after", Kind: common.KindGet})
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
}

func TestRemoteUnreachable(t *testing.T) {
	n := NewRemoteNode(cluster.Member{Name: "gone", Host: "127.0.0.1", Port: 1}, "tester",
		tcp.NewTCPClientTransport(common.TransportConfig{}, time.Second), serializer.NewJSONSerializer(), time.Second)

	assert.Error(t, n.Connect(context.Background()))
	resp := n.Send(context.Background(), &common.Request{ID: "x", Kind: common.KindGet})
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
}

// gatedTransport holds every dial until gate is closed
type gatedTransport struct {
	transport.IRPCClientTransport
	gate  chan struct{}
	dials atomic.Int32
}

func (g *gatedTransport) Dial(ctx context.Context, endpoint string) (transport.IConn, error) {
	g.dials.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.IRPCClientTransport.Dial(ctx, endpoint)
}

func newGatedRemote(t *testing.T) (*RemoteNode, *gatedTransport) {
	t.Helper()
	member := startPeer(t, func(req *common.Request) *common.Response {
		return common.NewResultResponse("", req.ID)
	})
	gated := &gatedTransport{
		IRPCClientTransport: tcp.NewTCPClientTransport(common.TransportConfig{}, time.Second),
		gate:                make(chan struct{}),
	}
	n := NewRemoteNode(member, "tester", gated, serializer.NewJSONSerializer(), 5*time.Second)
	t.Cleanup(func() { _ = n.Disconnect() })
	return n, gated
}

func TestRemoteSendsShareOneDial(t *testing.T) {
	n, gated := newGatedRemote(t)

	connected := make(chan error, 1)
	go func() { connected <- n.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return gated.dials.Load() == 1 }, time.Second, time.Millisecond)

	// the pending dial must not block state queries
	assert.False(t, n.IsConnected())

	const senders = 3
	responses := make(chan *common.Response, senders)
	for i := 0; i < senders; i++ {
		go func(i int) {
			responses <- n.Send(context.Background(), &common.Request{ID: fmt.Sprintf("req-%d", i), Kind: common.KindGet})
		}(i)
	}

	// a caller that gives up stops waiting without canceling the shared dial
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp := n.Send(ctx, &common.Request{ID: "impatient", Kind: common.KindGet})
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)

	close(gated.gate)
	require.NoError(t, <-connected)
	for i := 0; i < senders; i++ {
		resp := <-responses
		assert.True(t, resp.IsOk(), resp.ErrorMessage)
	}
	assert.Equal(t, int32(1), gated.dials.Load())
	assert.True(t, n.IsConnected())
}

func TestRemoteDisconnectDuringDial(t *testing.T) {
	n, gated := newGatedRemote(t)

	connected := make(chan error, 1)
	go func() { connected <- n.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return gated.dials.Load() == 1 }, time.Second, time.Millisecond)

	disconnected := make(chan error, 1)
	go func() { disconnected <- n.Disconnect() }()
	select {
	case err := <-disconnected:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("disconnect waited for the pending dial")
	}

	close(gated.gate)
	assert.ErrorIs(t, <-connected, errDisconnected)
	assert.False(t, n.IsConnected())
}

// stubConn only serves as a distinct connection identity
type stubConn struct{ transport.IConn }

func TestFailWaitersKeepsCallsOfOtherConnections(t *testing.T) {
	n := NewRemoteNode(cluster.Member{Name: "peer"}, "tester", nil, serializer.NewJSONSerializer(), 0)

	lost, current := &stubConn{}, &stubConn{}
	lostCh := make(chan *common.Response, 1)
	currentCh := make(chan *common.Response, 1)
	n.waiters.Store("lost", waiter{conn: lost, respCh: lostCh})
	n.waiters.Store("current", waiter{conn: current, respCh: currentCh})

	n.failWaiters(lost, errors.New("EOF"))

	select {
	case resp := <-lostCh:
		assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)
	default:
		t.Fatal("call on the lost connection was not resolved")
	}
	assert.Empty(t, currentCh)
	assert.Equal(t, 1, n.Pending())

	n.failWaiters(nil, errDisconnected)
	assert.Equal(t, 0, n.Pending())
}

func TestLocalNode(t *testing.T) {
	n := NewLocalNode(cluster.Member{Name: "self"}, func(_ context.Context, req *common.Request) *common.Response {
		if req.Kind == common.KindRemove {
			panic("boom")
		}
		return common.NewResultResponse("", map[string]string{"ok": "yes"})
	})
	assert.True(t, n.IsLocal())

	// disconnected until connected
	resp := n.Send(context.Background(), &common.Request{ID: "1", Kind: common.KindGet})
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)

	require.NoError(t, n.Connect(context.Background()))
	resp = n.Send(context.Background(), &common.Request{ID: "2", Kind: common.KindGet})
	require.True(t, resp.IsOk())
	assert.Equal(t, "2", resp.CorrelationID)

	resp = n.Send(context.Background(), &common.Request{ID: "3", Kind: common.KindRemove})
	assert.Equal(t, common.ErrCInternal, resp.ErrorCode)
	assert.Equal(t, "3", resp.CorrelationID)
}
