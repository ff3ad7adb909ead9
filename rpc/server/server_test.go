package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves adapter on a random local port and returns a connected node
func startServer(t *testing.T, adapter IRPCServerAdapter) *node.RemoteNode {
	t.Helper()
	cfg := common.NodeConfig{
		Endpoint:      "127.0.0.1:0",
		TimeoutSecond: 5,
		Transport:     common.TransportConfig{WorkersPerConn: 16},
	}
	s, err := NewRPCServer(cfg, tcp.NewTCPServerTransport(cfg.Transport, time.Second), serializer.NewJSONSerializer(), adapter)
	require.NoError(t, err)
	addr, err := s.Serve()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	member, err := cluster.ParseMember("server@" + addr.String())
	require.NoError(t, err)
	n := node.NewRemoteNode(member, "tester", tcp.NewTCPClientTransport(common.TransportConfig{}, time.Second), serializer.NewJSONSerializer(), 5*time.Second)
	require.NoError(t, n.Connect(context.Background()))
	t.Cleanup(func() { _ = n.Disconnect() })
	return n
}

func TestServerAnswersRequests(t *testing.T) {
	n := startServer(t, AdapterFunc(func(_ context.Context, req *common.Request) *common.Response {
		return common.NewResultResponse(req.ReplyTo(), map[string]any{"kind": req.Kind.String(), "routed": req.Routed})
	}))

	req, err := common.NewRequest("cmd-1", common.KindBuckets, struct{}{})
	require.NoError(t, err)
	req.Routed = true

	var got map[string]any
	require.NoError(t, n.Send(context.Background(), req).Decode(&got))
	assert.Equal(t, map[string]any{"kind": "buckets", "routed": true}, got)
}

func TestServerDeduplicatesRetries(t *testing.T) {
	var calls atomic.Int32
	n := startServer(t, AdapterFunc(func(_ context.Context, req *common.Request) *common.Response {
		return common.NewResultResponse(req.ReplyTo(), calls.Add(1))
	}))

	send := func(id string, routed bool) int32 {
		req, err := common.NewRequest(id, common.KindPut, struct{}{})
		require.NoError(t, err)
		req.Routed = routed
		var got int32
		require.NoError(t, n.Send(context.Background(), req).Decode(&got))
		return got
	}

	first := send("cmd-1", true)
	assert.Equal(t, first, send("cmd-1", true), "a retry is answered from the cache")
	assert.NotEqual(t, first, send("cmd-1", false), "forwarded requests are cached separately")
	assert.NotEqual(t, first, send("cmd-2", true))
	assert.EqualValues(t, 3, calls.Load())
}

func TestServerRetriesCommunicationFailures(t *testing.T) {
	var calls atomic.Int32
	n := startServer(t, AdapterFunc(func(_ context.Context, req *common.Request) *common.Response {
		if calls.Add(1) == 1 {
			return common.NewErrorResponse(req.ReplyTo(), common.ErrCCommunication, "peer unreachable")
		}
		return common.NewResultResponse(req.ReplyTo(), "ok")
	}))

	req, err := common.NewRequest("cmd-1", common.KindGet, struct{}{})
	require.NoError(t, err)

	resp := n.Send(context.Background(), req)
	assert.Equal(t, common.ErrCCommunication, resp.ErrorCode)

	resp = n.Send(context.Background(), req)
	assert.True(t, resp.IsOk(), resp.ErrorMessage)
	assert.EqualValues(t, 2, calls.Load())
}

func TestServerRejectsGarbage(t *testing.T) {
	s := &RPCServer{serializer: serializer.NewJSONSerializer()}
	resp, err := serializer.NewJSONSerializer().DecodeResponse(s.handle(context.Background(), []byte("not json")))
	require.NoError(t, err)
	assert.Equal(t, common.ErrCBadRequest, resp.ErrorCode)
}

func TestServerHandlesNilResponse(t *testing.T) {
	n := startServer(t, AdapterFunc(func(context.Context, *common.Request) *common.Response { return nil }))

	req, err := common.NewRequest("cmd-1", common.KindGet, struct{}{})
	require.NoError(t, err)
	resp := n.Send(context.Background(), req)
	assert.Equal(t, common.ErrCInternal, resp.ErrorCode)
}
