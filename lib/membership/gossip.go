package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/hashicorp/memberlist"
)

// GossipConfig configures the gossip source
type GossipConfig struct {
	// BindAddr and BindPort are the gossip listen address
	BindAddr string
	BindPort int
	// Seeds are gossip addresses of existing members, empty starts a new cluster
	Seeds []string
	// HealthThreshold is the memberlist health score from which the node counts as
	// unavailable
	HealthThreshold int
	// HealthInterval is how often the health score is checked
	HealthInterval time.Duration
}

// GossipSource discovers the members of the local cluster with the memberlist gossip
// protocol. Every node carries its JSON encoded configuration as node meta data.
type GossipSource struct {
	*tracker
	config GossipConfig

	mu          sync.Mutex
	ml          *memberlist.Memberlist
	selfConfig  cluster.NodeConfiguration
	meta        []byte
	unavailable bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewGossipSource creates a gossip source, nothing is started before Start
func NewGossipSource(config GossipConfig) *GossipSource {
	if config.HealthThreshold <= 0 {
		config.HealthThreshold = 4
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = time.Second
	}
	return &GossipSource{tracker: newTracker(), config: config}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see membership.Source)
// --------------------------------------------------------------------------

func (s *GossipSource) Start(_ context.Context, self cluster.NodeConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ml != nil {
		return errors.New("gossip source already started")
	}

	meta, err := json.Marshal(self)
	if err != nil {
		return fmt.Errorf("failed to encode node meta: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return fmt.Errorf("node meta of %d bytes exceeds %d", len(meta), memberlist.MetaMaxSize)
	}
	s.self = self.Name
	s.selfConfig = self
	s.meta = meta

	conf := memberlist.DefaultLANConfig()
	conf.Name = self.Name
	if s.config.BindAddr != "" {
		conf.BindAddr = s.config.BindAddr
	}
	conf.BindPort = s.config.BindPort
	conf.AdvertisePort = s.config.BindPort
	conf.Delegate = &gossipDelegate{source: s}
	conf.Events = &gossipEvents{source: s}
	conf.LogOutput = logWriter{}

	list, err := memberlist.Create(conf)
	if err != nil {
		return fmt.Errorf("failed to start gossip: %w", err)
	}
	s.ml = list

	if len(s.config.Seeds) > 0 {
		n, err := list.Join(s.config.Seeds)
		if err != nil {
			_ = list.Shutdown()
			s.ml = nil
			return fmt.Errorf("failed to join seeds %s: %w", strings.Join(s.config.Seeds, ","), err)
		}
		Logger.Infof("Joined gossip cluster through %d of %d seeds", n, len(s.config.Seeds))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watchHealth(watchCtx, s.done)
	return nil
}

func (s *GossipSource) Events() <-chan Event      { return s.events.Recv() }
func (s *GossipSource) IsMember(name string) bool { return s.isMember(name) }
func (s *GossipSource) Members() []cluster.Member { return s.list() }

func (s *GossipSource) Stop() error {
	s.mu.Lock()
	list := s.ml
	cancel, done := s.cancel, s.done
	s.ml = nil
	s.mu.Unlock()

	if list == nil {
		return nil
	}
	cancel()
	<-done

	if err := list.Leave(5 * time.Second); err != nil {
		Logger.Warningf("Failed to leave gossip cluster: %v", err)
	}
	err := list.Shutdown()
	s.close()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// watchHealth turns the memberlist health score into availability events
func (s *GossipSource) watchHealth(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		list := s.ml
		s.mu.Unlock()
		if list == nil {
			return
		}

		score := list.GetHealthScore()
		if !s.unavailable && score >= s.config.HealthThreshold {
			s.unavailable = true
			Logger.Warningf("Gossip health score %d, node is unavailable", score)
			s.emit(Event{Type: AvailabilityLost})
		} else if s.unavailable && score < s.config.HealthThreshold {
			s.unavailable = false
			Logger.Infof("Gossip health score %d, node is available again", score)
			s.emit(Event{Type: AvailabilityRestored})
		}
	}
}

// nodeOf decodes the configuration a gossip node carries, nil for nodes of other clusters
func (s *GossipSource) nodeOf(n *memberlist.Node) (cluster.Member, *cluster.NodeConfiguration) {
	var cfg cluster.NodeConfiguration
	if err := json.Unmarshal(n.Meta, &cfg); err != nil {
		Logger.Warningf("Ignoring gossip node %s with invalid meta: %v", n.Name, err)
		return cluster.Member{}, nil
	}
	if cfg.Cluster != s.selfConfig.Cluster {
		Logger.Debugf("Ignoring gossip node %s of cluster %s", n.Name, cfg.Cluster)
		return cluster.Member{}, nil
	}
	return cfg.Member(), &cfg
}

// gossipDelegate publishes the node configuration as meta data
type gossipDelegate struct {
	source *GossipSource
}

func (d *gossipDelegate) NodeMeta(limit int) []byte {
	if len(d.source.meta) > limit {
		Logger.Errorf("Node meta exceeds the gossip limit of %d bytes", limit)
		return nil
	}
	return d.source.meta
}

func (d *gossipDelegate) NotifyMsg([]byte)                           {}
func (d *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *gossipDelegate) LocalState(join bool) []byte                { return nil }
func (d *gossipDelegate) MergeRemoteState(buf []byte, join bool)     {}

// gossipEvents forwards memberlist notifications to the tracker
type gossipEvents struct {
	source *GossipSource
}

func (e *gossipEvents) NotifyJoin(n *memberlist.Node) {
	if m, cfg := e.source.nodeOf(n); cfg != nil {
		e.source.join(m, cfg)
	}
}

func (e *gossipEvents) NotifyLeave(n *memberlist.Node) {
	e.source.leave(n.Name)
}

func (e *gossipEvents) NotifyUpdate(n *memberlist.Node) {
	if m, cfg := e.source.nodeOf(n); cfg != nil {
		e.source.join(m, cfg)
	}
}

// logWriter forwards memberlist log output to the membership logger
type logWriter struct{}

var _ io.Writer = logWriter{}

func (logWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	switch {
	case strings.Contains(line, "[ERR]"):
		Logger.Errorf("%s", line)
	case strings.Contains(line, "[WARN]"):
		Logger.Warningf("%s", line)
	default:
		Logger.Debugf("%s", line)
	}
	return len(p), nil
}
