package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/command"
	"github.com/ValentinKolb/dDoc/lib/ensemble"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/membership"
	"github.com/ValentinKolb/dDoc/lib/node"
	"github.com/ValentinKolb/dDoc/lib/processor"
	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/lib/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

var Logger = logger.GetLogger("coordinator")

// Status is a snapshot of the coordinator for the admin API
type Status struct {
	State        State                    `json:"state"`
	Node         string                   `json:"node"`
	Cluster      string                   `json:"cluster"`
	View         cluster.View             `json:"view"`
	Routed       []string                 `json:"routed"`
	Paused       bool                     `json:"paused"`
	PendingJoins int64                    `json:"pending_joins"`
	StartedAt    time.Time                `json:"started_at"`
	Ensemble     []ensemble.ClusterStatus `json:"ensemble,omitempty"`
}

// Coordinator owns the membership driven lifecycle of one node
type Coordinator struct {
	opts      Options
	source    membership.Source
	router    router.Router
	ensemble  EnsembleManager
	env       *command.Env
	ownsLocks bool

	// routerProc runs requests of clients, storeProc sub-requests of peers
	routerProc *processor.Processor
	storeProc  *processor.Processor

	state atomic.Int32
	self  cluster.NodeConfiguration

	ctx    context.Context
	cancel context.CancelFunc

	joins      *util.Queue[membership.Event]
	leaves     *util.Queue[membership.Event]
	peers      *pool.Pool
	workers    conc.WaitGroup
	rendezvous *rendezvous

	// mutate serializes route mutations and flushes
	mutate       sync.Mutex
	joined       atomic.Bool
	pendingJoins atomic.Int64

	mu       sync.Mutex
	restored chan struct{}

	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates an idle coordinator
func New(opts Options) (*Coordinator, error) {
	if opts.Membership == nil {
		return nil, errors.New("membership source is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Nodes == nil {
		return nil, errors.New("node factory is required")
	}

	ownsLocks := opts.Locks == nil
	if ownsLocks {
		opts.Locks = lockmgr.NewLockManager(lockmgr.DefaultConcurrency, lockmgr.DefaultLease)
	}
	opts.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:       opts,
		source:     opts.Membership,
		router:     opts.Router,
		ensemble:   opts.Ensemble,
		ownsLocks:  ownsLocks,
		routerProc: processor.New("router", opts.ProcessorWorkers),
		storeProc:  processor.New("store", opts.ProcessorWorkers),
		ctx:        ctx,
		cancel:     cancel,
		joins:      util.NewQueue[membership.Event](),
		leaves:     util.NewQueue[membership.Event](),
		peers:      pool.New().WithMaxGoroutines(opts.PeerWorkers),
		rendezvous: newRendezvous(),
		done:       make(chan struct{}),
	}
	c.env = &command.Env{
		Store:   opts.Store,
		Locks:   opts.Locks,
		Router:  opts.Router,
		View:    c.localView,
		Workers: opts.FanOutWorkers,
	}
	return c, nil
}

// Start sets up the routes of the local cluster and of every cluster in ensembleCfg,
// joins the local cluster and starts consuming membership events. The node becomes
// operational once the membership source reports that this node joined. On failure the
// coordinator is shut down.
func (c *Coordinator) Start(ctx context.Context, self cluster.NodeConfiguration, ensembleCfg *ensemble.Config) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("coordinator cannot start in state %s", c.State())
	}
	if err := c.start(ctx, self, ensembleCfg); err != nil {
		Logger.Errorf("Failed to start node %s: %v", self.Name, err)
		c.Shutdown()
		return err
	}
	return nil
}

// Handle executes a request that arrived at this node. Routed requests are executed
// through the router, all others on the local store. Both wait while processing is paused.
func (c *Coordinator) Handle(ctx context.Context, req *common.Request) *common.Response {
	proc, execute := c.storeProc, command.ExecuteOnStore
	if req.Routed {
		proc, execute = c.routerProc, command.ExecuteOnRouter
	}

	var resp *common.Response
	err := proc.Process(ctx, func() {
		resp = execute(ctx, c.env, req)
	})
	switch {
	case err == nil:
		return resp
	case errors.Is(err, processor.ErrStopped):
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCCommunication, "node %s is shutting down", c.self.Name)
	case ctx.Err() != nil:
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCCommunication, "request %s not processed: %v", req.ID, ctx.Err())
	default:
		return common.NewErrorResponse(req.ReplyTo(), common.ErrCInternal, "request %s failed: %v", req.ID, err)
	}
}

// State returns the current lifecycle state
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// IsPaused reports whether request processing is paused
func (c *Coordinator) IsPaused() bool {
	return c.routerProc.IsPaused() || c.storeProc.IsPaused()
}

// Router returns the router of the coordinator
func (c *Coordinator) Router() router.Router {
	return c.router
}

// Done is closed once the coordinator terminated
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Status returns a snapshot of the coordinator
func (c *Coordinator) Status() Status {
	status := Status{
		State:        c.State(),
		Node:         c.self.Name,
		Cluster:      c.self.Cluster,
		View:         c.localView(),
		Paused:       c.IsPaused(),
		PendingJoins: c.pendingJoins.Load(),
		StartedAt:    c.self.StartedAt,
	}
	for _, n := range c.router.ClusterRoute(c.self.Cluster) {
		status.Routed = append(status.Routed, n.Name())
	}
	if c.ensemble != nil {
		status.Ensemble = c.ensemble.Status()
	}
	return status
}

// Shutdown leaves the cluster, stops request processing and ensemble polling and
// disconnects every node. It is safe to call more than once.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		Logger.Infof("Shutting down node %s (state %s)", c.self.Name, c.State())
		c.state.Store(int32(StateShuttingDown))

		c.cancel()
		c.rendezvous.close()
		if c.ensemble != nil {
			c.ensemble.Shutdown()
		}
		if err := c.source.Stop(); err != nil {
			Logger.Warningf("Failed to leave cluster: %v", err)
		}
		c.joins.Close()
		c.leaves.Close()
		c.workers.Wait()
		c.peers.Wait()

		c.routerProc.Stop()
		c.storeProc.Stop()
		c.router.Cleanup()
		if c.ownsLocks {
			c.opts.Locks.Close()
		}

		c.state.Store(int32(StateTerminated))
		close(c.done)
		Logger.Infof("Node %s terminated", c.self.Name)
	})
}

// --------------------------------------------------------------------------
// Startup
// --------------------------------------------------------------------------

func (c *Coordinator) start(ctx context.Context, self cluster.NodeConfiguration, ensembleCfg *ensemble.Config) error {
	if self.Name == "" || self.Cluster == "" {
		return errors.New("node name and cluster are required")
	}
	if ensembleCfg == nil {
		ensembleCfg = ensemble.DefaultConfig()
	}
	if self.StartedAt.IsZero() {
		self.StartedAt = time.Now()
	}
	c.self = self

	clusters := []cluster.Cluster{{Name: self.Cluster, IsLocal: true}}
	for _, cl := range ensembleCfg.Clusters {
		if cl.Name == self.Cluster {
			return fmt.Errorf("ensemble lists the local cluster %s", cl.Name)
		}
		clusters = append(clusters, cluster.Cluster{Name: cl.Name})
	}
	if err := c.router.SetupClusters(clusters); err != nil {
		return fmt.Errorf("failed to set up routes: %w", err)
	}

	if c.ensemble == nil {
		scheduler, err := ensembleCfg.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create ensemble scheduler: %w", err)
		}
		c.ensemble = ensemble.NewManager(c.router, c.opts.Nodes, scheduler, c.opts.Timeout)
	}

	events := c.source.Events()
	c.workers.Go(func() { c.dispatch(events) })
	c.workers.Go(c.consumeJoins)
	c.workers.Go(c.consumeLeaves)

	c.state.Store(int32(StateJoining))
	if err := c.source.Start(ctx, self); err != nil {
		return fmt.Errorf("failed to join cluster %s: %w", self.Cluster, err)
	}

	for _, cl := range ensembleCfg.Clusters {
		seeds, err := cl.Members()
		if err != nil {
			return err
		}
		name := cl.Name
		c.workers.Go(func() { c.joinRemote(name, seeds) })
	}
	Logger.Infof("Node %s started, joining cluster %s", self.Name, self.Cluster)
	return nil
}

// joinRemote joins a remote cluster, retrying until it succeeds or the coordinator stops
func (c *Coordinator) joinRemote(clusterName string, seeds []cluster.Member) {
	for attempt := 1; ; attempt++ {
		view, err := c.ensemble.Join(c.ctx, clusterName, seeds)
		if err == nil {
			Logger.Infof("Joined remote cluster %s: %v", clusterName, view.Names())
			return
		}
		Logger.Warningf("Attempt %d to join remote cluster %s failed: %v", attempt, clusterName, err)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.opts.RemoteJoinRetry):
		}
	}
}

// --------------------------------------------------------------------------
// Event Dispatch
// --------------------------------------------------------------------------

// dispatch sorts membership events onto the join and leave queues. Configurations
// and availability changes are handled right away so they never wait behind joins.
func (c *Coordinator) dispatch(events <-chan membership.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			countEvent(e.Type)

			switch e.Type {
			case membership.ThisNodeJoined, membership.PeerJoined:
				c.joins.Push(e)
			case membership.PeerLeft:
				c.rendezvous.forget(e.Member.Name)
				c.leaves.Push(e)
			case membership.ConfigPublished:
				if e.Config != nil {
					c.rendezvous.publish(*e.Config)
				}
			case membership.AvailabilityLost:
				c.availabilityLost()
			case membership.AvailabilityRestored:
				c.availabilityRestored()
			default:
				Logger.Warningf("Ignoring unknown membership event %s", e)
			}
		}
	}
}

// consumeJoins handles this node's join inline and hands peer joins to the worker pool
func (c *Coordinator) consumeJoins() {
	for e := range c.joins.Recv() {
		if e.Type == membership.ThisNodeJoined {
			c.safely(e, func() { c.thisNodeJoined(e) })
			continue
		}
		if c.ctx.Err() != nil {
			continue
		}
		member := e.Member
		c.pendingJoins.Add(1)
		c.peers.Go(func() {
			defer c.pendingJoins.Add(-1)
			c.safely(e, func() { c.peerJoined(member) })
		})
	}
}

func (c *Coordinator) consumeLeaves() {
	for e := range c.leaves.Recv() {
		c.safely(e, func() { c.peerLeft(e.Member) })
	}
}

// localView returns the view of the local cluster as reported by the membership source
func (c *Coordinator) localView() cluster.View {
	return cluster.NewView(c.self.Cluster, c.source.Members()...)
}

// node returns the routed node of the local cluster with the given name
func (c *Coordinator) node(name string) (node.Node, bool) {
	return c.router.Node(c.self.Cluster, name)
}
