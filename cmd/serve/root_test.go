package serve

import (
	"os"
	"testing"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertise(t *testing.T) {
	hostname, err := os.Hostname()
	require.NoError(t, err)

	tests := []struct {
		name      string
		kind      string
		endpoint  string
		host      string
		port      int
		wantHost  string
		wantPort  int
		wantError bool
	}{
		{name: "endpoint", kind: "tcp", endpoint: "10.0.0.1:7400", wantHost: "10.0.0.1", wantPort: 7400},
		{name: "wildcard", kind: "tcp", endpoint: "0.0.0.0:7400", wantHost: hostname, wantPort: 7400},
		{name: "explicit", kind: "tcp", endpoint: "0.0.0.0:7400", host: "node-1", port: 9000, wantHost: "node-1", wantPort: 9000},
		{name: "unix", kind: "unix", endpoint: "/tmp/ddoc.sock", wantHost: "/tmp/ddoc.sock"},
		{name: "invalid", kind: "tcp", endpoint: "nope", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &common.NodeConfig{Endpoint: tt.endpoint, Transport: common.TransportConfig{Kind: tt.kind}}
			err := advertise(cfg, tt.host, tt.port)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, cfg.AdvertiseHost)
			assert.Equal(t, tt.wantPort, cfg.AdvertisePort)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a:1", "b:2"}, splitList(" a:1, ,b:2 "))
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	s, err := newStore(&common.NodeConfig{Name: "n1", Store: "bolt", DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, dir+"/n1.db")

	_, err = newStore(&common.NodeConfig{Store: "rocks"})
	assert.Error(t, err)
}
