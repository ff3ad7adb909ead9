// Package admin serves the operational HTTP API of a dDoc node.
//
// Endpoints:
//
//	GET /health    200 while the node is operational, 503 otherwise
//	GET /cluster   state of the coordinator and the view of the local cluster
//	GET /ensemble  views of the remote clusters and their update intervals
//	GET /metrics   all metrics in the Prometheus text format
//
// The API is read only, every mutation goes through the RPC server.
package admin
