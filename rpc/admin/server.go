package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ValentinKolb/dDoc/lib/coordinator"
	"github.com/ValentinKolb/dDoc/lib/ensemble"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("admin")

const (
	contentTypeJSON = "application/json"
	readTimeout     = 5 * time.Second
)

// StatusProvider reports the state of the node, implemented by *coordinator.Coordinator
type StatusProvider interface {
	Status() coordinator.Status
}

// Server is the admin HTTP server of one node
type Server struct {
	addr       string
	status     StatusProvider
	httpServer *http.Server
}

// NewServer creates an admin server listening on addr once served
func NewServer(addr string, status StatusProvider) *Server {
	return &Server{addr: addr, status: status}
}

// Handler returns the router of the admin API
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/cluster", s.handleCluster)
	r.Get("/ensemble", s.handleEnsemble)
	r.Get("/metrics", s.handleMetrics)
	return r
}

// Serve starts listening and returns the bound address. Requests are served in the background.
func (s *Server) Serve() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Admin server failed: %v", err)
		}
	}()

	Logger.Infof("Admin API listening on http://%s", listener.Addr())
	return listener.Addr(), nil
}

// Close stops the server, waiting for running requests until ctx is done
func (s *Server) Close(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

type healthResponse struct {
	Status string            `json:"status"`
	State  coordinator.State `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.status.Status().State
	if state != coordinator.StateOperational {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", State: state})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", State: state})
}

func (s *Server) handleCluster(w http.ResponseWriter, _ *http.Request) {
	status := s.status.Status()
	status.Ensemble = nil
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleEnsemble(w http.ResponseWriter, _ *http.Request) {
	clusters := s.status.Status().Ensemble
	if clusters == nil {
		clusters = []ensemble.ClusterStatus{}
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Warningf("Failed to write response: %v", err)
	}
}
