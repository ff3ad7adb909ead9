package command

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func init() {
	register(membershipCommand{})
	register(removeBucketCommand{})
}

// --------------------------------------------------------------------------
// Membership
// --------------------------------------------------------------------------

// membershipCommand answers with the view of the local cluster. It is never routed.
type membershipCommand struct{}

func (membershipCommand) Kind() common.Kind { return common.KindMembership }

func (c membershipCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	return c.ExecuteOnStore(ctx, env, req)
}

func (membershipCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	if env.View == nil {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "node has no membership view")
	}
	return common.NewResultResponse(req.ReplyTo(), env.View())
}

// --------------------------------------------------------------------------
// Remove Bucket
// --------------------------------------------------------------------------

// removeBucketCommand drops a bucket on every node of every cluster
type removeBucketCommand struct{}

func (removeBucketCommand) Kind() common.Kind { return common.KindRemoveBucket }

func (removeBucketCommand) ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	var p BucketPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	if p.Bucket == "" {
		return ToResponse(req.ReplyTo(), badRequest("remove-bucket without bucket"))
	}
	_, err := broadcastAll(ctx, env, req, p)
	return reply(req, nil, err)
}

func (removeBucketCommand) ExecuteOnStore(_ context.Context, env *Env, req *common.Request) *common.Response {
	var p BucketPayload
	if err := decode(req, &p); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return reply(req, nil, env.Store.RemoveBucket(p.Bucket))
}

// DecodeView decodes the result of a membership response
func DecodeView(resp *common.Response) (cluster.View, error) {
	var view cluster.View
	err := resp.Decode(&view)
	return view, err
}
