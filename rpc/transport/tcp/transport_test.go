package tcp

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoOverTCP(t *testing.T) {
	config := common.TransportConfig{WorkersPerConn: 4, TCPConf: common.TCPConf{TCPNoDelay: true}}

	server := NewTCPServerTransport(config, time.Second)
	server.RegisterHandler(func(_ context.Context, req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client := NewTCPClientTransport(config, time.Second)
	assert.Equal(t, "tcp", client.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := client.Dial(ctx, addr.String())
	require.NoError(t, err)
	defer conn.Close()

	const frames = 50
	var wg sync.WaitGroup
	wg.Add(frames)
	for i := 0; i < frames; i++ {
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, conn.WriteFrame([]byte(fmt.Sprintf("frame-%d", i))))
		}(i)
	}
	wg.Wait()

	// responses may arrive in any order
	seen := map[string]bool{}
	for i := 0; i < frames; i++ {
		frame, err := conn.ReadFrame()
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(frame, []byte("echo:frame-")))
		seen[string(frame)] = true
	}
	assert.Len(t, seen, frames)
}

func TestLargeFrame(t *testing.T) {
	config := common.TransportConfig{BufferSize: 1024}

	server := NewTCPServerTransport(config, time.Second)
	server.RegisterHandler(func(_ context.Context, req []byte) []byte {
		return []byte(fmt.Sprintf("%d", len(req)))
	})
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	conn, err := NewTCPClientTransport(config, time.Second).Dial(context.Background(), addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteFrame(bytes.Repeat([]byte("x"), 100_000)))
	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "100000", string(frame))
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewTCPClientTransport(common.TransportConfig{}, time.Second).Dial(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}

func TestCloseDisconnectsClients(t *testing.T) {
	server := NewTCPServerTransport(common.TransportConfig{}, time.Second)
	server.RegisterHandler(func(_ context.Context, req []byte) []byte { return req })
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	conn, err := NewTCPClientTransport(common.TransportConfig{}, time.Second).Dial(context.Background(), addr.String())
	require.NoError(t, err)
	defer conn.Close()

	// make sure the server registered the connection
	require.NoError(t, conn.WriteFrame([]byte("ping")))
	_, err = conn.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, server.Close())
	_, err = conn.ReadFrame()
	assert.Error(t, err)
}
