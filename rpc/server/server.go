package server

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// DefaultDedupCacheSize is the number of responses kept for retried requests
const DefaultDedupCacheSize = 4096

var (
	decodeFailures = metrics.NewCounter(`ddoc_rpc_decode_failures_total`)
	dedupHits      = metrics.NewCounter(`ddoc_rpc_dedup_hits_total`)
)

// RPCServer serves the command protocol of a node on a transport
type RPCServer struct {
	endpoint   string
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	timeout    time.Duration

	// recent maps request ids to their responses so retries are answered without
	// executing the command again
	recent *lru.Cache
}

// NewRPCServer creates a server for the given endpoint. Requests are decoded with
// serializer and executed by adapter.
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(config.Transport, config.Timeout()),
//		serializer.NewJSONSerializer(),
//		coordinator,
//	)
//	addr, err := s.Serve()
func NewRPCServer(
	config common.NodeConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	adapter IRPCServerAdapter,
) (*RPCServer, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	size := config.DedupCacheSize
	if size <= 0 {
		size = DefaultDedupCacheSize
	}
	recent, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	s := &RPCServer{
		endpoint:   config.Endpoint,
		transport:  transport,
		serializer: serializer,
		adapter:    adapter,
		timeout:    config.Timeout(),
		recent:     recent,
	}
	transport.RegisterHandler(s.handle)
	Logger.Infof("Created RPC server for %s (%s)", config.Endpoint, serializer.Name())
	return s, nil
}

// Serve starts accepting connections in the background and returns the bound address
func (s *RPCServer) Serve() (net.Addr, error) {
	addr, err := s.transport.Listen(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.endpoint, err)
	}
	Logger.Infof("RPC server listening on %s", addr)
	return addr, nil
}

// Close stops the transport and waits for running requests
func (s *RPCServer) Close() error {
	return s.transport.Close()
}

// --------------------------------------------------------------------------
// Request Handling
// --------------------------------------------------------------------------

// dedupKey separates routed requests of clients from forwarded requests of peers
// carrying the same command id
func dedupKey(req *common.Request) string {
	if req.Routed {
		return "r/" + req.ID
	}
	return "s/" + req.ID
}

func (s *RPCServer) handle(ctx context.Context, frame []byte) []byte {
	req, err := s.serializer.DecodeRequest(frame)
	if err != nil {
		decodeFailures.Inc()
		Logger.Warningf("Failed to decode request: %v", err)
		return s.encode(common.NewErrorResponse("", common.ErrCBadRequest, "failed to decode request: %v", err))
	}

	kind := req.Kind.String()
	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_rpc_requests_total{kind=%q}`, kind)).Inc()

	key := dedupKey(req)
	if cached, ok := s.recent.Get(key); ok {
		dedupHits.Inc()
		resp := *cached.(*common.Response)
		resp.CorrelationID = req.ReplyTo()
		return s.encode(&resp)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp := s.adapter.Handle(ctx, req)
	metrics.GetOrCreateHistogram(fmt.Sprintf(`ddoc_rpc_request_duration_seconds{kind=%q}`, kind)).UpdateDuration(start)

	if resp == nil {
		resp = common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "no response for %s", kind)
	}
	resp.CorrelationID = req.ReplyTo()

	if !resp.IsOk() {
		metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_rpc_errors_total{kind=%q,code=%q}`, kind, resp.ErrorCode)).Inc()
	}
	// failures to reach other nodes are worth retrying
	if resp.ErrorCode != common.ErrCCommunication {
		s.recent.Add(key, resp)
	}
	return s.encode(resp)
}

func (s *RPCServer) encode(resp *common.Response) []byte {
	data, err := s.serializer.EncodeResponse(resp)
	if err != nil {
		Logger.Errorf("Failed to encode response %s: %v", resp.CorrelationID, err)
		data, _ = s.serializer.EncodeResponse(common.NewErrorResponse(resp.CorrelationID, common.ErrCInternal, "failed to encode response: %v", err))
	}
	return data
}
