package ensemble

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/ensemble/fuzzy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingUpdater records calls and detects overlapping updates
type countingUpdater struct {
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
	change  func() *ViewChange
}

func (u *countingUpdater) Update(ctx context.Context, _ string) (*ViewChange, error) {
	if u.active.Add(1) > 1 {
		u.overlap.Store(true)
	}
	defer u.active.Add(-1)
	u.calls.Add(1)

	select {
	case <-time.After(u.delay):
	case <-ctx.Done():
	}
	if u.change == nil {
		return &ViewChange{}, nil
	}
	return u.change(), nil
}

func testFuzzyConfig() fuzzy.Config {
	return fuzzy.Config{Baseline: 5 * time.Millisecond, Increment: 10 * time.Millisecond, Limit: 60 * time.Millisecond}
}

func TestFixedSchedulerNeverOverlaps(t *testing.T) {
	s := NewFixedScheduler(time.Millisecond)
	u := &countingUpdater{delay: 5 * time.Millisecond}

	s.Schedule("east", u)
	assert.Eventually(t, func() bool { return u.calls.Load() >= 5 }, 2*time.Second, time.Millisecond)
	s.Shutdown()

	assert.False(t, u.overlap.Load())
	interval, ok := s.Interval("east")
	assert.False(t, ok)
	assert.Zero(t, interval)
}

func TestShutdownStopsUpdates(t *testing.T) {
	s := NewFixedScheduler(time.Millisecond)
	u := &countingUpdater{}

	s.Schedule("east", u)
	s.Schedule("north", u)
	assert.Eventually(t, func() bool { return u.calls.Load() >= 4 }, 2*time.Second, time.Millisecond)
	s.Shutdown()

	calls := u.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, u.calls.Load())

	s.Schedule("east", u)
	_, ok := s.Interval("east")
	assert.False(t, ok, "scheduling after shutdown is ignored")
}

func TestCancelStopsOneCluster(t *testing.T) {
	s := NewFixedScheduler(time.Millisecond)
	defer s.Shutdown()
	east, north := &countingUpdater{}, &countingUpdater{}

	s.Schedule("east", east)
	s.Schedule("north", north)
	s.Cancel("east")

	calls := east.calls.Load()
	assert.Eventually(t, func() bool { return north.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, calls, east.calls.Load())
}

func TestUnjoinedClusterStopsItsLoop(t *testing.T) {
	s := NewFixedScheduler(time.Millisecond)
	defer s.Shutdown()
	u := &countingUpdater{change: func() *ViewChange { return nil }}

	s.Schedule("east", u)
	assert.Eventually(t, func() bool { return u.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, u.calls.Load())
}

func TestAdaptiveSchedulerRelaxesWhileStable(t *testing.T) {
	cfg := testFuzzyConfig()
	s, err := NewAdaptiveScheduler(cfg)
	require.NoError(t, err)
	defer s.Shutdown()

	u := &countingUpdater{change: func() *ViewChange { return &ViewChange{Percentage: 0} }}
	s.Schedule("east", u)

	interval, ok := s.Interval("east")
	require.True(t, ok)
	assert.Equal(t, cfg.Baseline, interval)

	assert.Eventually(t, func() bool {
		interval, _ := s.Interval("east")
		return interval == cfg.Limit
	}, 2*time.Second, time.Millisecond)
}

func TestAdaptiveSchedulerStaysShortUnderChurn(t *testing.T) {
	cfg := testFuzzyConfig()
	s, err := NewAdaptiveScheduler(cfg)
	require.NoError(t, err)
	defer s.Shutdown()

	u := &countingUpdater{change: func() *ViewChange { return &ViewChange{Percentage: 100} }}
	s.Schedule("east", u)

	assert.Eventually(t, func() bool { return u.calls.Load() >= 5 }, 2*time.Second, time.Millisecond)
	interval, ok := s.Interval("east")
	require.True(t, ok)
	assert.Equal(t, cfg.Baseline, interval)
}

func TestRescheduleResetsInterval(t *testing.T) {
	cfg := testFuzzyConfig()
	s, err := NewAdaptiveScheduler(cfg)
	require.NoError(t, err)
	defer s.Shutdown()

	u := &countingUpdater{change: func() *ViewChange { return &ViewChange{} }}
	s.Schedule("east", u)
	assert.Eventually(t, func() bool {
		interval, _ := s.Interval("east")
		return interval > cfg.Baseline
	}, 2*time.Second, time.Millisecond)

	s.Schedule("east", u)
	interval, ok := s.Interval("east")
	require.True(t, ok)
	assert.Equal(t, cfg.Baseline, interval)
	assert.False(t, u.overlap.Load())
}

func TestAdaptiveSchedulerRejectsInvalidBand(t *testing.T) {
	_, err := NewAdaptiveScheduler(fuzzy.Config{Baseline: time.Second, Increment: time.Second, Limit: time.Second})
	assert.Error(t, err)
}
