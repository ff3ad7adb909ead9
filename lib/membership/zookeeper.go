package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/go-zookeeper/zk"
)

// ZookeeperRoot is the znode all clusters register under
const ZookeeperRoot = "/ddoc"

// ZookeeperConfig configures the zookeeper source
type ZookeeperConfig struct {
	Servers        []string
	SessionTimeout time.Duration
	// ConnectTimeout bounds the wait for the first session
	ConnectTimeout time.Duration
}

// ZookeeperSource tracks the members of the local cluster as ephemeral znodes under
// /ddoc/<cluster>/members. The data of each znode is the JSON encoded configuration
// of its node. Losing the session makes the node unavailable.
type ZookeeperSource struct {
	*tracker
	config ZookeeperConfig

	mu          sync.Mutex
	conn        zkConn
	selfConfig  cluster.NodeConfiguration
	unavailable bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// zkConn is the part of *zk.Conn the source uses
type zkConn interface {
	State() zk.State
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
	Close()
}

// NewZookeeperSource creates a zookeeper source, nothing is started before Start
func NewZookeeperSource(config ZookeeperConfig) *ZookeeperSource {
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 5 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	return &ZookeeperSource{tracker: newTracker(), config: config}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see membership.Source)
// --------------------------------------------------------------------------

func (s *ZookeeperSource) Start(ctx context.Context, self cluster.NodeConfiguration) error {
	conn, sessionEvents, err := zk.Connect(s.config.Servers, s.config.SessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return fmt.Errorf("zk connect: %w", err)
	}
	if err := s.start(ctx, conn, sessionEvents, self); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// start registers self over conn and starts watching the session and the members
func (s *ZookeeperSource) start(ctx context.Context, conn zkConn, sessionEvents <-chan zk.Event, self cluster.NodeConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("zookeeper source already started")
	}
	s.conn = conn
	s.self = self.Name
	s.selfConfig = self

	if err := s.waitConnected(ctx, conn); err != nil {
		s.conn = nil
		return err
	}
	if err := s.ensurePath(conn, s.membersPath()); err != nil {
		s.conn = nil
		return fmt.Errorf("ensure members path: %w", err)
	}
	if err := s.register(conn); err != nil {
		s.conn = nil
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.watchSession(watchCtx, conn, sessionEvents)
	go s.watchMembers(watchCtx, conn)
	return nil
}

func (s *ZookeeperSource) Events() <-chan Event      { return s.events.Recv() }
func (s *ZookeeperSource) IsMember(name string) bool { return s.isMember(name) }
func (s *ZookeeperSource) Members() []cluster.Member { return s.list() }

func (s *ZookeeperSource) Stop() error {
	s.mu.Lock()
	conn, cancel := s.conn, s.cancel
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Delete(s.selfPath(), -1)
	if errors.Is(err, zk.ErrNoNode) {
		err = nil
	}
	conn.Close()
	s.wg.Wait()
	s.close()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *ZookeeperSource) membersPath() string {
	return path.Join(ZookeeperRoot, s.selfConfig.Cluster, "members")
}

func (s *ZookeeperSource) selfPath() string {
	return path.Join(s.membersPath(), s.selfConfig.Name)
}

func (s *ZookeeperSource) waitConnected(ctx context.Context, conn zkConn) error {
	deadline := time.Now().Add(s.config.ConnectTimeout)
	for {
		st := conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", s.config.ConnectTimeout, st)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (s *ZookeeperSource) ensurePath(conn zkConn, p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// register creates the ephemeral znode of this node
func (s *ZookeeperSource) register(conn zkConn) error {
	data, err := json.Marshal(s.selfConfig)
	if err != nil {
		return fmt.Errorf("failed to encode node configuration: %w", err)
	}
	_, err = conn.Create(s.selfPath(), data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}
	Logger.Infof("Registered %s", s.selfPath())
	return nil
}

// watchSession turns session state changes into availability events
func (s *ZookeeperSource) watchSession(ctx context.Context, conn zkConn, events <-chan zk.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateDisconnected, zk.StateExpired:
				if !s.unavailable {
					s.unavailable = true
					Logger.Warningf("Zookeeper session %s", ev.State)
					s.emit(Event{Type: AvailabilityLost})
				}
			case zk.StateHasSession:
				if s.unavailable {
					s.unavailable = false
					// an expired session dropped the ephemeral node
					if err := s.register(conn); err != nil {
						Logger.Errorf("Failed to register again: %v", err)
					}
					s.emit(Event{Type: AvailabilityRestored})
				}
			}
		}
	}
}

// watchMembers reads the member znodes whenever they change
func (s *ZookeeperSource) watchMembers(ctx context.Context, conn zkConn) {
	defer s.wg.Done()
	for {
		children, _, ch, err := conn.ChildrenW(s.membersPath())
		if err != nil {
			Logger.Warningf("ChildrenW error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		s.sync(conn, children)

		select {
		case ev := <-ch:
			Logger.Debugf("Zookeeper event %s on %s", ev.Type, ev.Path)
		case <-ctx.Done():
			return
		}
	}
}

// sync reconciles the tracked members with the current children of the members znode
func (s *ZookeeperSource) sync(conn zkConn, children []string) {
	current := make(map[string]struct{}, len(children))
	for _, name := range children {
		current[name] = struct{}{}
		if s.isMember(name) {
			continue
		}
		data, _, err := conn.Get(path.Join(s.membersPath(), name))
		if err != nil {
			Logger.Warningf("Failed to read member %s: %v", name, err)
			continue
		}
		var cfg cluster.NodeConfiguration
		if err := json.Unmarshal(data, &cfg); err != nil {
			Logger.Warningf("Ignoring member %s with invalid data: %v", name, err)
			continue
		}
		s.join(cfg.Member(), &cfg)
	}

	for _, m := range s.list() {
		if _, ok := current[m.Name]; !ok {
			s.leave(m.Name)
		}
	}
}

// zkLogger forwards zookeeper client logs to the membership logger
type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}
