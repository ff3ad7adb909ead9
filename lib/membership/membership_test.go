package membership

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func config(name string) cluster.NodeConfiguration {
	return cluster.NodeConfiguration{Name: name, Cluster: "west", Host: "127.0.0.1", Port: 7000}
}

func next(t *testing.T, s Source) Event {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "events closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no membership event")
		return Event{}
	}
}

func TestStaticSourceLifecycle(t *testing.T) {
	s := NewStaticSource()
	require.NoError(t, s.Start(context.Background(), config("a")))
	assert.Error(t, s.Start(context.Background(), config("a")))

	e := next(t, s)
	assert.Equal(t, ThisNodeJoined, e.Type)
	require.NotNil(t, e.Config)
	assert.Equal(t, "a", e.Config.Name)

	s.Join(config("b"))
	e = next(t, s)
	assert.Equal(t, PeerJoined, e.Type)
	assert.Equal(t, "b", e.Member.Name)
	assert.Nil(t, e.Config)

	e = next(t, s)
	assert.Equal(t, ConfigPublished, e.Type)
	assert.Equal(t, "b", e.Config.Name)

	assert.True(t, s.IsMember("b"))
	assert.Equal(t, []string{"a", "b"}, names(s.Members()))

	s.Leave("b")
	e = next(t, s)
	assert.Equal(t, PeerLeft, e.Type)
	assert.False(t, s.IsMember("b"))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestStaticSourceIsIdempotent(t *testing.T) {
	s := NewStaticSource()
	require.NoError(t, s.Start(context.Background(), config("a")))
	next(t, s)

	s.JoinWithoutConfig(cluster.Member{Name: "b"})
	s.JoinWithoutConfig(cluster.Member{Name: "b"})
	s.Publish(config("b"))
	s.Publish(config("b"))
	s.Leave("b")
	s.Leave("b")
	s.Leave("unknown")
	s.LoseAvailability()

	var got []EventType
	for i := 0; i < 4; i++ {
		got = append(got, next(t, s).Type)
	}
	assert.Equal(t, []EventType{PeerJoined, ConfigPublished, PeerLeft, AvailabilityLost}, got)
	require.NoError(t, s.Stop())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "peer-joined b", Event{Type: PeerJoined, Member: cluster.Member{Name: "b"}}.String())
	assert.Equal(t, "availability-lost", Event{Type: AvailabilityLost}.String())
	assert.Equal(t, "event(42)", EventType(42).String())
}

func names(members []cluster.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Name
	}
	return out
}
