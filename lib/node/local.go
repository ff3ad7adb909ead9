package node

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// LocalNode executes requests in-process with a handler bound to the local store
type LocalNode struct {
	member    cluster.Member
	handler   Handler
	connected atomic.Bool
}

// NewLocalNode creates the node representing this process
func NewLocalNode(member cluster.Member, handler Handler) *LocalNode {
	return &LocalNode{member: member, handler: handler}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see node.Node)
// --------------------------------------------------------------------------

func (n *LocalNode) Name() string           { return n.member.Name }
func (n *LocalNode) Member() cluster.Member { return n.member }
func (n *LocalNode) IsLocal() bool          { return true }
func (n *LocalNode) IsConnected() bool      { return n.connected.Load() }

func (n *LocalNode) Connect(context.Context) error {
	n.connected.Store(true)
	return nil
}

func (n *LocalNode) Disconnect() error {
	n.connected.Store(false)
	return nil
}

func (n *LocalNode) Send(ctx context.Context, req *common.Request) (resp *common.Response) {
	if !n.connected.Load() {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCCommunication, "local node %s is disconnected", n.member.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Panic while executing %s %s: %v\n%s", req.Kind, req.ID, r, debug.Stack())
			resp = common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "panic while executing %s: %v", req.Kind, r)
		}
	}()

	resp = n.handler(ctx, req)
	if resp == nil {
		resp = common.NewResultResponse(req.ReplyTo(), nil)
	}
	resp.CorrelationID = req.ReplyTo()
	return resp
}
