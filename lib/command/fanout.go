package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/pool"
)

// call is one sub-request of a fan-out
type call struct {
	cluster string
	node    node.Node
	req     *common.Request
}

// outcome is the response to a call
type outcome struct {
	call
	resp *common.Response
}

// subRequest creates a request of the same kind as req with a fresh id and payload
func subRequest(env *Env, req *common.Request, payload any) (*common.Request, error) {
	sub, err := common.NewRequest(uuid.NewString(), req.Kind, payload)
	if err != nil {
		return nil, err
	}
	sub.Sender = env.localName()
	return sub, nil
}

// forward sends req with its id to n for execution on the store of n
func forward(ctx context.Context, env *Env, n node.Node, req *common.Request) *common.Response {
	msg := *req
	msg.Routed = false
	msg.CorrelationID = ""
	if msg.Sender == "" {
		msg.Sender = env.localName()
	}
	return n.Send(ctx, &msg)
}

// routeToOwner forwards req to the owner of bucket/key
func routeToOwner(ctx context.Context, env *Env, req *common.Request, bucket, key string) *common.Response {
	if err := store.ValidateAddress(bucket, key); err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	owner, err := env.Router.RouteToNodeFor(bucket, key)
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return forward(ctx, env, owner, req)
}

// scatter sends all calls concurrently and returns the outcomes ordered by cluster
// and node name
func scatter(ctx context.Context, env *Env, calls []call) []outcome {
	p := pool.NewWithResults[outcome]().WithMaxGoroutines(env.workers())
	for _, c := range calls {
		c := c
		p.Go(func() outcome {
			return outcome{call: c, resp: c.node.Send(ctx, c.req)}
		})
	}
	outcomes := p.Wait()
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].cluster != outcomes[j].cluster {
			return outcomes[i].cluster < outcomes[j].cluster
		}
		return outcomes[i].node.Name() < outcomes[j].node.Name()
	})
	return outcomes
}

// collect returns the responses of all outcomes or, if any failed, one error
// aggregating every failure. The code of the error is the code of the first failure.
func collect(outcomes []outcome) ([]*common.Response, error) {
	var errs *multierror.Error
	var code common.ErrorCode
	responses := make([]*common.Response, 0, len(outcomes))
	for _, o := range outcomes {
		if o.resp.IsOk() {
			responses = append(responses, o.resp)
			continue
		}
		if code == "" {
			code = o.resp.ErrorCode
		}
		errs = multierror.Append(errs, fmt.Errorf("node %s: %w", o.node.Name(), o.resp.Err()))
	}
	if errs != nil {
		errs.ErrorFormat = listFormat
		return nil, &common.ResponseError{Code: code, Message: errs.Error()}
	}
	return responses, nil
}

// broadcastLocal sends payload to every node of the local cluster, each with a
// fresh request id, and requires all of them to succeed
func broadcastLocal(ctx context.Context, env *Env, req *common.Request, payload any) ([]*common.Response, error) {
	local := env.Router.LocalCluster().Name
	nodes := env.Router.ClusterRoute(local)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: cluster %s has no nodes", router.ErrNoRoute, local)
	}

	calls := make([]call, 0, len(nodes))
	for _, n := range nodes {
		sub, err := subRequest(env, req, payload)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call{cluster: local, node: n, req: sub})
	}
	return collect(scatter(ctx, env, calls))
}

// broadcastAll sends payload to every node of every cluster. It succeeds if at least
// one node per cluster succeeds and fails with a communication error if any cluster
// has no nodes or only failing ones.
func broadcastAll(ctx context.Context, env *Env, req *common.Request, payload any) ([]*common.Response, error) {
	routes := env.Router.BroadcastRoute()

	var errs *multierror.Error
	var calls []call
	for clusterName, nodes := range routes {
		if len(nodes) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("cluster %s has no nodes", clusterName))
			continue
		}
		for _, n := range nodes {
			sub, err := subRequest(env, req, payload)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call{cluster: clusterName, node: n, req: sub})
		}
	}
	if errs != nil {
		errs.ErrorFormat = listFormat
		return nil, &common.ResponseError{Code: common.ErrCCommunication, Message: errs.Error()}
	}

	succeeded := make(map[string]int, len(routes))
	failures := make(map[string]*multierror.Error, len(routes))
	var responses []*common.Response
	for _, o := range scatter(ctx, env, calls) {
		if o.resp.IsOk() {
			succeeded[o.cluster]++
			responses = append(responses, o.resp)
			continue
		}
		Logger.Warningf("Broadcast %s to %s of cluster %s failed: %v", req.Kind, o.node.Name(), o.cluster, o.resp.Err())
		failures[o.cluster] = multierror.Append(failures[o.cluster], fmt.Errorf("node %s: %w", o.node.Name(), o.resp.Err()))
		failures[o.cluster].ErrorFormat = listFormat
	}

	for clusterName := range routes {
		if succeeded[clusterName] == 0 {
			errs = multierror.Append(errs, fmt.Errorf("every node of cluster %s failed: %w", clusterName, failures[clusterName]))
		}
	}
	if errs != nil {
		errs.ErrorFormat = listFormat
		return nil, &common.ResponseError{Code: common.ErrCCommunication, Message: errs.Error()}
	}
	return responses, nil
}

// listFormat renders aggregated errors on a single line
func listFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	sort.Strings(msgs)
	return fmt.Sprintf("%d errors occurred: %s", len(errs), strings.Join(msgs, "; "))
}
