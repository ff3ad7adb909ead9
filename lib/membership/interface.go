package membership

import (
	"context"
	"fmt"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("membership")

// EventType classifies membership events
type EventType uint8

const (
	ThisNodeJoined       EventType = iota + 1 // the local node became a member
	PeerJoined                                // another node became a member
	PeerLeft                                  // a member is gone
	AvailabilityLost                          // the local node lost contact to the membership service
	AvailabilityRestored                      // contact to the membership service is back
	ConfigPublished                           // the configuration of a member became known
)

func (t EventType) String() string {
	switch t {
	case ThisNodeJoined:
		return "this-node-joined"
	case PeerJoined:
		return "peer-joined"
	case PeerLeft:
		return "peer-left"
	case AvailabilityLost:
		return "availability-lost"
	case AvailabilityRestored:
		return "availability-restored"
	case ConfigPublished:
		return "config-published"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is a change of the cluster membership. Config is set for ThisNodeJoined and
// ConfigPublished.
type Event struct {
	Type   EventType
	Member cluster.Member
	Config *cluster.NodeConfiguration
}

func (e Event) String() string {
	if e.Member.Name == "" {
		return e.Type.String()
	}
	return fmt.Sprintf("%s %s", e.Type, e.Member.Name)
}

// Source reports the membership of the local cluster
type Source interface {
	// Start joins the cluster and publishes self to the other members
	Start(ctx context.Context, self cluster.NodeConfiguration) error
	// Events delivers membership changes in the order they were observed
	Events() <-chan Event
	// IsMember reports whether a node with the given name is currently a member
	IsMember(name string) bool
	// Members returns the current members ordered by name
	Members() []cluster.Member
	// Stop leaves the cluster and closes Events
	Stop() error
}

// --------------------------------------------------------------------------
// Shared Bookkeeping
// --------------------------------------------------------------------------

// tracker keeps the member table of a source and turns changes into events
type tracker struct {
	self    string
	members *xsync.MapOf[string, cluster.Member]
	configs *xsync.MapOf[string, cluster.NodeConfiguration]
	events  *util.Queue[Event]
}

func newTracker() *tracker {
	return &tracker{
		members: xsync.NewMapOf[string, cluster.Member](),
		configs: xsync.NewMapOf[string, cluster.NodeConfiguration](),
		events:  util.NewQueue[Event](),
	}
}

func (t *tracker) emit(e Event) {
	Logger.Debugf("Membership event: %s", e)
	if !t.events.Push(e) {
		Logger.Debugf("Dropped %s, source stopped", e)
	}
}

// join records a member and emits ThisNodeJoined or PeerJoined once per member
func (t *tracker) join(m cluster.Member, cfg *cluster.NodeConfiguration) {
	if _, known := t.members.LoadOrStore(m.Name, m); known {
		t.publish(cfg)
		return
	}
	if m.Name == t.self {
		t.emit(Event{Type: ThisNodeJoined, Member: m, Config: cfg})
		if cfg != nil {
			t.configs.Store(cfg.Name, *cfg)
		}
		return
	}
	t.emit(Event{Type: PeerJoined, Member: m})
	t.publish(cfg)
}

// publish emits ConfigPublished for a peer configuration that is new or changed
func (t *tracker) publish(cfg *cluster.NodeConfiguration) {
	if cfg == nil || cfg.Name == t.self {
		return
	}
	if prev, ok := t.configs.Load(cfg.Name); ok && prev == *cfg {
		return
	}
	t.configs.Store(cfg.Name, *cfg)
	t.emit(Event{Type: ConfigPublished, Member: cfg.Member(), Config: cfg})
}

// leave forgets a member and emits PeerLeft if it was known. The local node is never
// forgotten, a source that registers it again must not report a second join.
func (t *tracker) leave(name string) {
	if name == t.self {
		return
	}
	m, known := t.members.LoadAndDelete(name)
	t.configs.Delete(name)
	if !known {
		return
	}
	t.emit(Event{Type: PeerLeft, Member: m})
}

func (t *tracker) isMember(name string) bool {
	_, ok := t.members.Load(name)
	return ok
}

func (t *tracker) list() []cluster.Member {
	var out []cluster.Member
	t.members.Range(func(_ string, m cluster.Member) bool {
		out = append(out, m)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// close ends Events, the consumer may already have stopped reading
func (t *tracker) close() {
	t.events.Stop()
}
