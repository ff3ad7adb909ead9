package server

import (
	"context"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCServerAdapter executes decoded requests. The coordinator of a node is its adapter.
type IRPCServerAdapter interface {
	// Handle executes req and returns its response. It must never return nil.
	Handle(ctx context.Context, req *common.Request) *common.Response
}

// AdapterFunc adapts a function to IRPCServerAdapter
type AdapterFunc func(ctx context.Context, req *common.Request) *common.Response

func (f AdapterFunc) Handle(ctx context.Context, req *common.Request) *common.Response {
	return f(ctx, req)
}
