package membership

import (
	"context"
	"errors"
	"sync"

	"github.com/ValentinKolb/dDoc/lib/cluster"
)

// StaticSource is a membership source driven by method calls. It backs single node
// deployments and tests.
type StaticSource struct {
	*tracker

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewStaticSource creates a source without members
func NewStaticSource() *StaticSource {
	return &StaticSource{tracker: newTracker()}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see membership.Source)
// --------------------------------------------------------------------------

func (s *StaticSource) Start(_ context.Context, self cluster.NodeConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("static source already started")
	}
	s.started = true
	s.self = self.Name
	s.join(self.Member(), &self)
	return nil
}

func (s *StaticSource) Events() <-chan Event      { return s.events.Recv() }
func (s *StaticSource) IsMember(name string) bool { return s.isMember(name) }
func (s *StaticSource) Members() []cluster.Member { return s.list() }

func (s *StaticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		s.close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Membership Changes
// --------------------------------------------------------------------------

// Join adds a peer together with its configuration
func (s *StaticSource) Join(cfg cluster.NodeConfiguration) {
	s.join(cfg.Member(), &cfg)
}

// JoinWithoutConfig adds a peer whose configuration is published later (or never)
func (s *StaticSource) JoinWithoutConfig(m cluster.Member) {
	s.join(m, nil)
}

// Publish makes the configuration of a known peer available
func (s *StaticSource) Publish(cfg cluster.NodeConfiguration) {
	s.publish(&cfg)
}

// Leave removes a peer
func (s *StaticSource) Leave(name string) {
	s.leave(name)
}

// LoseAvailability reports that the local node lost its connection to the cluster
func (s *StaticSource) LoseAvailability() {
	s.emit(Event{Type: AvailabilityLost})
}

// RestoreAvailability reports that the connection to the cluster is back
func (s *StaticSource) RestoreAvailability() {
	s.emit(Event{Type: AvailabilityRestored})
}
