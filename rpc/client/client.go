package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// Client sends routed requests to one node of a cluster. The node routes every
// request to the owners of the addressed documents.
type Client struct {
	node *node.RemoteNode
	// ownerID is sent with writes, see AsOwner
	ownerID string
}

// NewClient connects to the node at config.Endpoint. Endpoints are host:port for tcp
// and a socket path for unix transports.
func NewClient(
	ctx context.Context,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Client, error) {
	member, err := endpointMember(config.Endpoint, transport.Name())
	if err != nil {
		return nil, err
	}

	n := node.NewRemoteNode(member, "client-"+uuid.NewString(), transport, serializer, config.Timeout())
	if err := n.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Endpoint, err)
	}
	Logger.Debugf("Connected to %s via %s (%s)", config.Endpoint, transport.Name(), serializer.Name())
	return &Client{node: n}, nil
}

// AsOwner returns a client whose writes (put, merge, remove and the bulk variants)
// pass the document locks held by ownerID. It shares the connection of c, closing
// either closes both.
func (c *Client) AsOwner(ownerID string) *Client {
	return &Client{node: c.node, ownerID: ownerID}
}

// Close disconnects the client
func (c *Client) Close() error {
	return c.node.Disconnect()
}

func endpointMember(endpoint, transportName string) (cluster.Member, error) {
	if transportName == "unix" || strings.HasPrefix(endpoint, "/") {
		return cluster.Member{Name: endpoint, Host: endpoint}, nil
	}
	m, err := cluster.ParseMember(endpoint)
	if err != nil {
		return cluster.Member{}, fmt.Errorf("invalid endpoint: %w", err)
	}
	return m, nil
}

// invoke sends a routed request and decodes its result into result (if not nil).
// Error responses are returned as *common.ResponseError.
func (c *Client) invoke(ctx context.Context, kind common.Kind, payload any, result any) error {
	req, err := common.NewRequest(uuid.NewString(), kind, payload)
	if err != nil {
		return err
	}
	req.Routed = true

	resp := c.node.Send(ctx, req)
	if result == nil {
		return resp.Err()
	}
	return resp.Decode(result)
}
