package unix

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoOverUnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "ddoc.sock")

	server := NewUnixServerTransport(common.TransportConfig{}, time.Second)
	server.RegisterHandler(func(_ context.Context, req []byte) []byte {
		return append(req, '!')
	})
	_, err := server.Listen(socket)
	require.NoError(t, err)
	defer server.Close()

	conn, err := NewUnixClientTransport(common.TransportConfig{}, time.Second).Dial(context.Background(), socket)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteFrame([]byte("hello")))
	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello!", string(frame))
}
