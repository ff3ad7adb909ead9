package membership

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGossip(t *testing.T, cfg cluster.NodeConfiguration, seeds ...string) *GossipSource {
	t.Helper()
	s := NewGossipSource(GossipConfig{BindAddr: "127.0.0.1", Seeds: seeds, HealthInterval: 50 * time.Millisecond})
	require.NoError(t, s.Start(context.Background(), cfg))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// await skips events until one of type typ about member name arrives
func await(t *testing.T, s Source, typ EventType, name string) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			require.True(t, ok, "events closed")
			if e.Type == typ && e.Member.Name == name {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", typ, name)
			return Event{}
		}
	}
}

func gossipAddr(s *GossipSource) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ml.LocalNode().Address()
}

func TestGossipSourceJoinAndLeave(t *testing.T) {
	a := startGossip(t, config("a"))
	e := await(t, a, ThisNodeJoined, "a")
	require.NotNil(t, e.Config)
	assert.Equal(t, "west", e.Config.Cluster)
	assert.Error(t, a.Start(context.Background(), config("a")))

	b := startGossip(t, config("b"), gossipAddr(a))
	await(t, b, ThisNodeJoined, "b")
	await(t, b, PeerJoined, "a")

	await(t, a, PeerJoined, "b")
	e = await(t, a, ConfigPublished, "b")
	assert.Equal(t, config("b"), *e.Config)
	assert.True(t, a.IsMember("b"))

	// nodes of other clusters share the gossip pool but are not members
	other := config("c")
	other.Cluster = "east"
	startGossip(t, other, gossipAddr(a))
	require.Eventually(t, func() bool { return a.ml.NumMembers() == 3 }, 10*time.Second, 10*time.Millisecond)
	assert.False(t, a.IsMember("c"))

	require.NoError(t, b.Stop())
	await(t, a, PeerLeft, "b")
	assert.False(t, a.IsMember("b"))
	assert.Equal(t, []string{"a"}, names(a.Members()))
}

func TestGossipSourceUnreachableSeeds(t *testing.T) {
	s := NewGossipSource(GossipConfig{BindAddr: "127.0.0.1", Seeds: []string{"127.0.0.1:1"}})
	assert.Error(t, s.Start(context.Background(), config("a")))
	assert.NoError(t, s.Stop())
}
