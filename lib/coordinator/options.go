package coordinator

import (
	"context"
	"os"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/ensemble"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/membership"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/lib/store"
)

const (
	DefaultPeerWorkers         = 4
	DefaultTimeout             = 5 * time.Second
	DefaultReconnectTimeout    = 30 * time.Second
	DefaultExitGrace           = 2 * time.Second
	DefaultRendezvousPoll      = time.Second
	DefaultRendezvousWarnPolls = 30
	DefaultRemoteJoinRetry     = 10 * time.Second
)

// EnsembleManager keeps routes to the nodes of remote clusters
type EnsembleManager interface {
	Join(ctx context.Context, clusterName string, seeds []cluster.Member) (cluster.View, error)
	Status() []ensemble.ClusterStatus
	Shutdown()
}

// Options configures a Coordinator. Membership, Store and Nodes are required, every
// other field has a default.
type Options struct {
	// Membership reports the members of the local cluster
	Membership membership.Source
	// Store holds the documents of this node
	Store store.Store
	// Nodes creates the proxies of peers and remote cluster members
	Nodes node.Factory

	// Router maps keys to nodes, defaults to a hash ring router
	Router router.Router
	// Locks guards single document writes, defaults to lockmgr defaults
	Locks lockmgr.ILockManager
	// FlushStrategy evicts mis-owned documents, defaults to store.SequentialFlush
	FlushStrategy store.FlushStrategy
	// FlushCondition selects the documents to evict, defaults to router.NewRouteCondition
	FlushCondition store.FlushCondition
	// Ensemble manages remote clusters, defaults to an ensemble.Manager built from the
	// ensemble configuration passed to Start
	Ensemble EnsembleManager

	// PeerWorkers bounds the peer joins handled concurrently
	PeerWorkers int
	// ProcessorWorkers bounds the requests executed concurrently per processor
	ProcessorWorkers int
	// FanOutWorkers bounds the concurrent sub-requests of one command
	FanOutWorkers int
	// Timeout bounds connecting to nodes and remote membership requests
	Timeout time.Duration
	// ReconnectTimeout is how long the node waits for lost availability to return
	ReconnectTimeout time.Duration
	// ExitGrace is the delay between a fatal shutdown and Exit
	ExitGrace time.Duration
	// RendezvousPoll is the granularity of waiting for peer configurations
	RendezvousPoll time.Duration
	// RendezvousWarnPolls is the number of polls after which a waiting join logs a warning
	RendezvousWarnPolls int
	// RemoteJoinRetry is the delay between attempts to join a remote cluster
	RemoteJoinRetry time.Duration
	// Exit terminates the process after a failed reconnection, defaults to os.Exit
	Exit func(code int)
}

func (o *Options) setDefaults() {
	if o.Router == nil {
		o.Router = router.NewRouter(nil)
	}
	if o.FlushStrategy == nil {
		o.FlushStrategy = store.SequentialFlush{}
	}
	if o.FlushCondition == nil {
		o.FlushCondition = router.NewRouteCondition(o.Router)
	}
	if o.PeerWorkers <= 0 {
		o.PeerWorkers = DefaultPeerWorkers
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = DefaultReconnectTimeout
	}
	if o.ExitGrace < 0 {
		o.ExitGrace = 0
	} else if o.ExitGrace == 0 {
		o.ExitGrace = DefaultExitGrace
	}
	if o.RendezvousPoll <= 0 {
		o.RendezvousPoll = DefaultRendezvousPoll
	}
	if o.RendezvousWarnPolls <= 0 {
		o.RendezvousWarnPolls = DefaultRendezvousWarnPolls
	}
	if o.RemoteJoinRetry <= 0 {
		o.RemoteJoinRetry = DefaultRemoteJoinRetry
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
}
