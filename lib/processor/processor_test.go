package processor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessWaitsForStart(t *testing.T) {
	p := New("test", 2)
	defer p.Stop()

	var ran atomic.Bool
	done := make(chan error, 1)
	go func() { done <- p.Process(context.Background(), func() { ran.Store(true) }) }()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())

	p.Start()
	require.NoError(t, <-done)
	assert.True(t, ran.Load())
}

func TestPauseDrainsAndBlocks(t *testing.T) {
	p := New("test", 4)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = p.Process(context.Background(), func() {
			close(running)
			<-release
		})
	}()
	<-running

	paused := make(chan error, 1)
	go func() { paused <- p.Pause(context.Background()) }()

	select {
	case <-paused:
		t.Fatal("pause returned while work was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-paused)
	assert.Equal(t, 0, p.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Process(ctx, func() {}), context.DeadlineExceeded)

	p.Resume()
	assert.NoError(t, p.Process(context.Background(), func() {}))
}

func TestPauseIsCounted(t *testing.T) {
	p := New("test", 1)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Pause(context.Background()))
	require.NoError(t, p.Pause(context.Background()))

	p.Resume()
	assert.True(t, p.IsPaused())
	p.Resume()
	assert.False(t, p.IsPaused())

	// unmatched resume is ignored
	p.Resume()
	assert.False(t, p.IsPaused())
}

func TestPauseWithdrawnOnCancel(t *testing.T) {
	p := New("test", 1)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = p.Process(context.Background(), func() {
			close(running)
			<-release
		})
	}()
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Pause(ctx), context.DeadlineExceeded)
	assert.False(t, p.IsPaused())
	close(release)
}

func TestProcessRecoversPanics(t *testing.T) {
	p := New("test", 1)
	p.Start()
	defer p.Stop()

	err := p.Process(context.Background(), func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, p.InFlight())
}

func TestStopRejectsWork(t *testing.T) {
	p := New("test", 1)

	waiting := make(chan error, 1)
	go func() { waiting <- p.Process(context.Background(), func() {}) }()
	time.Sleep(10 * time.Millisecond)

	p.Stop()
	assert.ErrorIs(t, <-waiting, ErrStopped)
	assert.ErrorIs(t, p.Process(context.Background(), func() {}), ErrStopped)
	p.Stop()
}
