package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/coordinator"
	"github.com/ValentinKolb/dDoc/lib/ensemble"
	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStatus coordinator.Status

func (s staticStatus) Status() coordinator.Status { return coordinator.Status(s) }

func get(t *testing.T, status StatusProvider, path string) (int, string) {
	t.Helper()
	srv := httptest.NewServer(NewServer("", status).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		state    coordinator.State
		wantCode int
	}{
		{coordinator.StateOperational, http.StatusOK},
		{coordinator.StateJoining, http.StatusServiceUnavailable},
		{coordinator.StateReconnecting, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			code, body := get(t, staticStatus{State: tt.state}, "/health")
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, body, `"state":"`+tt.state.String()+`"`)
		})
	}
}

func TestCluster(t *testing.T) {
	status := staticStatus{
		State:    coordinator.StateOperational,
		Node:     "n1",
		Cluster:  "alpha",
		View:     cluster.NewView("alpha", cluster.Member{Name: "n1", Host: "127.0.0.1", Port: 7400}),
		Routed:   []string{"n1"},
		Ensemble: []ensemble.ClusterStatus{{Name: "beta"}},
	}
	code, body := get(t, status, "/cluster")
	require.Equal(t, http.StatusOK, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "operational", got["state"])
	assert.Equal(t, "alpha", got["cluster"])
	assert.NotContains(t, got, "ensemble")
}

func TestEnsemble(t *testing.T) {
	code, body := get(t, staticStatus{}, "/ensemble")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	status := staticStatus{Ensemble: []ensemble.ClusterStatus{{Name: "beta", NextUpdateIn: "1s"}}}
	_, body = get(t, status, "/ensemble")
	var got []ensemble.ClusterStatus
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "beta", got[0].Name)
	assert.Equal(t, "1s", got[0].NextUpdateIn)
}

func TestMetrics(t *testing.T) {
	metrics.GetOrCreateCounter(`ddoc_admin_test_total`).Inc()

	code, body := get(t, staticStatus{}, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ddoc_admin_test_total 1")
}

func TestUnknownPath(t *testing.T) {
	code, _ := get(t, staticStatus{}, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}
