package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/command"
	"github.com/ValentinKolb/dDoc/lib/membership"
	"github.com/ValentinKolb/dDoc/lib/node"
	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/sourcegraph/conc/panics"
)

var (
	flushedDocuments = vmetrics.NewCounter(`ddoc_coordinator_flushed_documents_total`)
	routeChanges     = vmetrics.NewCounter(`ddoc_coordinator_route_changes_total`)
	handlerFailures  = vmetrics.NewCounter(`ddoc_coordinator_handler_failures_total`)
	fatalShutdowns   = vmetrics.NewCounter(`ddoc_coordinator_reconnect_timeouts_total`)
)

func countEvent(t membership.EventType) {
	vmetrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_coordinator_events_total{type=%q}`, t)).Inc()
}

// safely runs the handler of e. Panics are logged, the event counts as handled.
func (c *Coordinator) safely(e membership.Event, handler func()) {
	var catcher panics.Catcher
	catcher.Try(handler)
	if r := catcher.Recovered(); r != nil {
		handlerFailures.Inc()
		Logger.Errorf("Handling %s failed: %s", e, r.String())
	}
}

// --------------------------------------------------------------------------
// This Node
// --------------------------------------------------------------------------

// thisNodeJoined routes to the local node and opens request processing. It runs once.
func (c *Coordinator) thisNodeJoined(e membership.Event) {
	if c.ctx.Err() != nil {
		return
	}
	if !c.joined.CompareAndSwap(false, true) {
		Logger.Warningf("Node %s reported joined again, ignoring", c.self.Name)
		return
	}

	cfg := c.self
	if e.Config != nil {
		cfg = *e.Config
	}
	c.rendezvous.publish(cfg)

	local := node.NewLocalNode(cfg.Member(), command.LocalHandler(c.env))
	if err := local.Connect(c.ctx); err != nil {
		Logger.Errorf("Failed to connect local node: %v", err)
		return
	}

	c.mutate.Lock()
	if err := c.router.AddRouteToLocalNode(local); err != nil {
		c.mutate.Unlock()
		Logger.Errorf("Failed to route to local node %s: %v", local.Name(), err)
		return
	}
	routeChanges.Inc()
	// documents persisted by an earlier run may belong to other nodes by now
	c.flush()
	c.mutate.Unlock()

	c.routerProc.Start()
	c.storeProc.Start()

	c.mu.Lock()
	next := StateOperational
	if c.restored != nil {
		next = StateReconnecting
	}
	c.state.CompareAndSwap(int32(StateJoining), int32(next))
	c.mu.Unlock()
	Logger.Infof("Node %s joined cluster %s (%s)", cfg.Name, c.self.Cluster, next)
}

// --------------------------------------------------------------------------
// Peers
// --------------------------------------------------------------------------

// peerJoined pauses processing, waits for the configuration of the peer, routes to it
// and flushes the documents it owns now
func (c *Coordinator) peerJoined(m cluster.Member) {
	if _, ok := c.node(m.Name); ok {
		Logger.Debugf("Peer %s is already routed", m.Name)
		return
	}

	resume, err := c.pause(c.ctx)
	if err != nil {
		Logger.Warningf("Join of peer %s not handled, failed to pause: %v", m.Name, err)
		return
	}
	defer resume()

	Logger.Infof("Peer %s joined, waiting for its configuration", m.Name)
	cfg, ok := c.rendezvous.await(m.Name, c.opts.RendezvousPoll, c.opts.RendezvousWarnPolls, c.source.IsMember)
	if !ok {
		Logger.Infof("Abandoned join of %s, it is no longer a member", m.Name)
		return
	}
	if cfg.Cluster != "" && cfg.Cluster != c.self.Cluster {
		Logger.Warningf("Peer %s belongs to cluster %s, not %s", m.Name, cfg.Cluster, c.self.Cluster)
		return
	}

	peer := c.opts.Nodes(cfg.Member())
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
	err = peer.Connect(ctx)
	cancel()
	if err != nil {
		Logger.Errorf("Failed to connect to peer %s: %v", cfg.Member(), err)
		return
	}

	c.mutate.Lock()
	defer c.mutate.Unlock()
	if !c.source.IsMember(m.Name) {
		_ = peer.Disconnect()
		Logger.Infof("Peer %s left while joining", m.Name)
		return
	}
	added, err := c.router.AddRouteTo(c.self.Cluster, peer)
	if err != nil || !added {
		_ = peer.Disconnect()
		if err != nil {
			Logger.Errorf("Failed to route to peer %s: %v", m.Name, err)
		}
		return
	}
	routeChanges.Inc()
	c.flush()
	Logger.Infof("Peer %s is routed", m.Name)
}

// peerLeft drops the route to a peer and flushes. It is a no-op for unknown peers.
func (c *Coordinator) peerLeft(m cluster.Member) {
	if c.ctx.Err() != nil {
		return
	}
	if _, ok := c.node(m.Name); !ok {
		Logger.Debugf("Peer %s left, it was not routed", m.Name)
		return
	}

	resume, err := c.pause(c.ctx)
	if err != nil {
		Logger.Warningf("Leave of peer %s not handled, failed to pause: %v", m.Name, err)
		return
	}
	defer resume()

	c.mutate.Lock()
	defer c.mutate.Unlock()
	peer, ok := c.node(m.Name)
	if !ok {
		return
	}
	if c.router.RemoveRouteTo(c.self.Cluster, peer) {
		routeChanges.Inc()
	}
	if err := peer.Disconnect(); err != nil {
		Logger.Warningf("Failed to disconnect from %s: %v", m.Name, err)
	}
	c.flush()
	Logger.Infof("Peer %s left, route removed", m.Name)
}

// --------------------------------------------------------------------------
// Availability
// --------------------------------------------------------------------------

// availabilityLost waits for availability to return on its own goroutine and shuts
// the node down if it does not return in time
func (c *Coordinator) availabilityLost() {
	c.mu.Lock()
	if c.restored != nil {
		c.mu.Unlock()
		return
	}
	if !c.state.CompareAndSwap(int32(StateOperational), int32(StateReconnecting)) {
		switch state := c.State(); state {
		case StateIdle, StateJoining:
			// thisNodeJoined enters Reconnecting while the loss is pending
			Logger.Warningf("Node %s lost availability while joining", c.self.Name)
		default:
			c.mu.Unlock()
			Logger.Debugf("Ignoring availability loss of node %s in state %s", c.self.Name, state)
			return
		}
	}
	restored := make(chan struct{})
	c.restored = restored
	c.mu.Unlock()

	Logger.Warningf("Node %s lost availability, waiting up to %s for it to return", c.self.Name, c.opts.ReconnectTimeout)
	go c.reconnect(restored)
}

func (c *Coordinator) availabilityRestored() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restored != nil {
		close(c.restored)
		c.restored = nil
	}
}

func (c *Coordinator) reconnect(restored <-chan struct{}) {
	timer := time.NewTimer(c.opts.ReconnectTimeout)
	defer timer.Stop()

	select {
	case <-restored:
		c.state.CompareAndSwap(int32(StateReconnecting), int32(StateOperational))
		Logger.Infof("Node %s reconnected", c.self.Name)
	case <-c.ctx.Done():
	case <-timer.C:
		fatalShutdowns.Inc()
		Logger.Errorf("Node %s did not reconnect within %s, shutting down", c.self.Name, c.opts.ReconnectTimeout)
		c.mu.Lock()
		c.restored = nil
		c.mu.Unlock()
		c.Shutdown()
		time.Sleep(c.opts.ExitGrace)
		c.opts.Exit(1)
	}
}

// --------------------------------------------------------------------------
// Pause and Flush
// --------------------------------------------------------------------------

// pause stops request processing. Requests of clients drain first since they may wait
// on peers, sub-requests of peers drain second. The returned function resumes in
// reverse order and must be called exactly once.
func (c *Coordinator) pause(ctx context.Context) (func(), error) {
	if err := c.routerProc.Pause(ctx); err != nil {
		return nil, err
	}
	if err := c.storeProc.Pause(ctx); err != nil {
		c.routerProc.Resume()
		return nil, err
	}
	return func() {
		c.storeProc.Resume()
		c.routerProc.Resume()
	}, nil
}

// flush evicts the documents the local node no longer owns. Callers hold mutate.
func (c *Coordinator) flush() {
	start := time.Now()
	evicted, err := c.opts.Store.Flush(c.opts.FlushStrategy, c.opts.FlushCondition)
	flushedDocuments.Add(evicted)
	if err != nil {
		Logger.Errorf("Flush failed after %d evictions: %v", evicted, err)
		return
	}
	Logger.Infof("Flushed %d documents in %s", evicted, time.Since(start).Round(time.Millisecond))
}
