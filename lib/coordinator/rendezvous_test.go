package coordinator

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/stretchr/testify/assert"
)

func TestRendezvousReturnsPublishedConfig(t *testing.T) {
	r := newRendezvous()
	want := cluster.NodeConfiguration{Name: "b", Cluster: "west", Host: "10.0.0.2", Port: 8080}
	r.publish(want)

	got, ok := r.await("b", time.Hour, 10, func(string) bool { return true })
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestRendezvousWakesOnPublish(t *testing.T) {
	r := newRendezvous()
	result := make(chan cluster.NodeConfiguration, 1)

	go func() {
		cfg, ok := r.await("b", time.Hour, 10, func(string) bool { return true })
		if ok {
			result <- cfg
		}
		close(result)
	}()

	time.Sleep(10 * time.Millisecond)
	r.publish(cluster.NodeConfiguration{Name: "a"})
	r.publish(cluster.NodeConfiguration{Name: "b", Port: 1})

	select {
	case cfg := <-result:
		assert.Equal(t, 1, cfg.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestRendezvousAbandonsDepartedPeer(t *testing.T) {
	tests := []struct {
		name    string
		release func(r *rendezvous, member *atomic.Bool)
	}{
		{"forget", func(r *rendezvous, member *atomic.Bool) {
			member.Store(false)
			r.forget("b")
		}},
		{"poll", func(_ *rendezvous, member *atomic.Bool) {
			member.Store(false)
		}},
		{"close", func(r *rendezvous, _ *atomic.Bool) {
			r.close()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRendezvous()
			var member atomic.Bool
			member.Store(true)
			done := make(chan bool, 1)

			go func() {
				_, ok := r.await("b", 5*time.Millisecond, 1, func(string) bool { return member.Load() })
				done <- ok
			}()

			time.Sleep(20 * time.Millisecond)
			tt.release(r, &member)

			select {
			case ok := <-done:
				assert.False(t, ok)
			case <-time.After(2 * time.Second):
				t.Fatal("waiter was not released")
			}
		})
	}
}

func TestRendezvousLookupAfterForget(t *testing.T) {
	r := newRendezvous()
	r.publish(cluster.NodeConfiguration{Name: "b"})
	_, ok := r.lookup("b")
	assert.True(t, ok)

	r.forget("b")
	_, ok = r.lookup("b")
	assert.False(t, ok)
}
