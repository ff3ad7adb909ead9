package command

import (
	"context"

	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// ExecuteOnRouter routes req through the router of env. The response carries the
// reply id of req.
func ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response {
	cmd, ok := Lookup(req.Kind)
	if !ok {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCBadRequest, "unknown request kind %d", req.Kind)
	}
	if env.Router == nil {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCMissingRoute, "node has no router")
	}
	resp := cmd.ExecuteOnRouter(ctx, env, req)
	resp.CorrelationID = req.ReplyTo()
	return resp
}

// ExecuteOnStore executes req on the local store of env
func ExecuteOnStore(ctx context.Context, env *Env, req *common.Request) *common.Response {
	cmd, ok := Lookup(req.Kind)
	if !ok {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCBadRequest, "unknown request kind %d", req.Kind)
	}
	if env.Store == nil {
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "node has no store")
	}
	resp := cmd.ExecuteOnStore(ctx, env, req)
	resp.CorrelationID = req.ReplyTo()
	return resp
}

// LocalHandler returns the handler of the local node. Routed requests arriving at the
// local node are routed again, all others run on the store.
func LocalHandler(env *Env) node.Handler {
	return func(ctx context.Context, req *common.Request) *common.Response {
		if req.Routed {
			return ExecuteOnRouter(ctx, env, req)
		}
		return ExecuteOnStore(ctx, env, req)
	}
}
