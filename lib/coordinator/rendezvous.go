package coordinator

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
)

// rendezvous is the table of published node configurations joins wait on
type rendezvous struct {
	mu      sync.Mutex
	cond    *sync.Cond
	configs map[string]cluster.NodeConfiguration
	closed  bool
}

func newRendezvous() *rendezvous {
	r := &rendezvous{configs: make(map[string]cluster.NodeConfiguration)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// publish stores the configuration of a node and wakes all waiters
func (r *rendezvous) publish(cfg cluster.NodeConfiguration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	r.cond.Broadcast()
}

// forget drops the configuration of a node that left and wakes all waiters
func (r *rendezvous) forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, name)
	r.cond.Broadcast()
}

func (r *rendezvous) lookup(name string) (cluster.NodeConfiguration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// close releases every waiter
func (r *rendezvous) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}

// await blocks until the configuration of name was published. It re-checks isMember
// every poll and gives up once name is no longer a member or the table was closed.
func (r *rendezvous) await(name string, poll time.Duration, warnPolls int, isMember func(string) bool) (cluster.NodeConfiguration, bool) {
	start := time.Now()
	warned := false

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if cfg, ok := r.configs[name]; ok {
			return cfg, true
		}
		if r.closed || !isMember(name) {
			return cluster.NodeConfiguration{}, false
		}

		if polls := int(time.Since(start) / poll); polls >= warnPolls && !warned {
			warned = true
			Logger.Warningf("Waiting for the configuration of %s since %s", name, time.Since(start).Round(time.Millisecond))
		}

		timer := time.AfterFunc(poll, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		r.cond.Wait()
		timer.Stop()
	}
}
