// Package server implements the RPC server of a dDoc node.
//
// The server decodes request frames received by a transport, executes them with an
// IRPCServerAdapter and encodes the responses. On a running node the adapter is the
// coordinator, which executes routed requests of clients through the router and
// forwarded requests of peers on the local store.
//
// Responses are kept in an LRU cache keyed by command id. A retried request (same id,
// fresh correlation id) is answered from the cache without executing the command again.
// Responses reporting communication failures are not cached so retries can succeed.
//
// Usage Example:
//
//	s, err := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(config.Transport, config.Timeout()),
//	  serializer.NewJSONSerializer(),
//	  coordinator,
//	)
//	if err != nil {
//	  return err
//	}
//	addr, err := s.Serve()
//	defer s.Close()
//
// The server counts requests, errors and durations per kind as VictoriaMetrics metrics
// (ddoc_rpc_requests_total, ddoc_rpc_errors_total, ddoc_rpc_request_duration_seconds).
package server
