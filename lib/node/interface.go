package node

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("node")

// Node is a routable peer, either this process (local) or another one (remote).
// Nodes are identified by name.
type Node interface {
	// Name returns the unique name of the node
	Name() string
	// Member returns the address information of the node
	Member() cluster.Member
	// IsLocal reports whether the node is this process
	IsLocal() bool
	// Connect prepares the node for Send. Connecting a connected node is a no-op.
	Connect(ctx context.Context) error
	// Disconnect releases the connection. Calls in flight resolve with an error response.
	Disconnect() error
	// IsConnected reports whether Send can currently reach the node
	IsConnected() bool
	// Send executes the request on the node and returns its response. Send never
	// returns nil; failures to reach the node are error responses.
	Send(ctx context.Context, req *common.Request) *common.Response
}

// Handler executes a request against local state
type Handler func(ctx context.Context, req *common.Request) *common.Response

// Factory creates the node proxy for a member
type Factory func(member cluster.Member) Node
