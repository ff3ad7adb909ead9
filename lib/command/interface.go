package command

import (
	"context"
	"runtime"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("command")

// Command implements one request kind
type Command interface {
	// Kind returns the request kind the command handles
	Kind() common.Kind
	// ExecuteOnRouter routes the request to the node(s) that must execute it and
	// merges their responses.
	ExecuteOnRouter(ctx context.Context, env *Env, req *common.Request) *common.Response
	// ExecuteOnStore executes the request against the local store
	ExecuteOnStore(ctx context.Context, env *Env, req *common.Request) *common.Response
}

// Env holds the collaborators commands execute against
type Env struct {
	// Store is the local document store
	Store store.Store
	// Locks guards writes to single documents, optional
	Locks lockmgr.ILockManager
	// Router maps keys to nodes
	Router router.Router
	// View returns the current view of the local cluster
	View func() cluster.View
	// Workers bounds the number of concurrent sub-requests of one fan-out
	Workers int
}

func (e *Env) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0) * 4
}

// localName returns the name of the local node, empty before it joined
func (e *Env) localName() string {
	if e.Router == nil {
		return ""
	}
	if n := e.Router.LocalNode(); n != nil {
		return n.Name()
	}
	return ""
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

var registry = map[common.Kind]Command{}

func register(cmd Command) {
	registry[cmd.Kind()] = cmd
}

// Lookup returns the command handling kind
func Lookup(kind common.Kind) (Command, bool) {
	cmd, ok := registry[kind]
	return cmd, ok
}
