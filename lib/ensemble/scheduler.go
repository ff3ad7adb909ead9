package ensemble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/ensemble/fuzzy"
)

// Updater re-polls a remote cluster
type Updater interface {
	// Update returns the change of the cluster view, nil if the cluster is not joined
	Update(ctx context.Context, clusterName string) (*ViewChange, error)
}

// Scheduler periodically updates remote clusters. Updates of one cluster never overlap.
type Scheduler interface {
	// Schedule starts polling clusterName. Scheduling a cluster again restarts its
	// timer with the initial interval.
	Schedule(clusterName string, u Updater)
	// Cancel stops polling clusterName
	Cancel(clusterName string)
	// Interval returns the interval until the next update of clusterName
	Interval(clusterName string) (time.Duration, bool)
	// Shutdown cancels every timer and waits for running updates
	Shutdown()
}

// nextInterval computes the interval after an update from the previous interval
type nextInterval func(previous time.Duration, change *ViewChange, err error) time.Duration

// loopScheduler runs one timer loop per cluster
type loopScheduler struct {
	kind    string
	initial time.Duration
	next    nextInterval

	mu     sync.Mutex
	loops  map[string]*loop
	closed bool
}

type loop struct {
	cancel   context.CancelFunc
	done     chan struct{}
	interval atomic.Int64
}

// NewFixedScheduler polls every cluster at a constant interval
func NewFixedScheduler(interval time.Duration) Scheduler {
	return &loopScheduler{
		kind:    SchedulerFixed,
		initial: interval,
		next: func(time.Duration, *ViewChange, error) time.Duration {
			return interval
		},
		loops: make(map[string]*loop),
	}
}

// NewAdaptiveScheduler polls a cluster more often the more its view changed in the
// last update. Intervals start at the baseline. Failed updates keep the previous interval.
func NewAdaptiveScheduler(cfg fuzzy.Config) (Scheduler, error) {
	controller, err := fuzzy.NewController(cfg)
	if err != nil {
		return nil, err
	}
	return &loopScheduler{
		kind:    SchedulerAdaptive,
		initial: cfg.Baseline,
		next: func(previous time.Duration, change *ViewChange, err error) time.Duration {
			if err != nil || change == nil {
				return previous
			}
			return controller.Next(change.Percentage, previous)
		},
		loops: make(map[string]*loop),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ensemble.Scheduler)
// --------------------------------------------------------------------------

func (s *loopScheduler) Schedule(clusterName string, u Updater) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.loops[clusterName]; ok {
		old.cancel()
		<-old.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	l.interval.Store(int64(s.initial))
	s.loops[clusterName] = l

	go s.run(ctx, clusterName, u, l)
	Logger.Infof("Scheduled %s updates of %s every %s", s.kind, clusterName, s.initial)
}

func (s *loopScheduler) Cancel(clusterName string) {
	s.mu.Lock()
	l, ok := s.loops[clusterName]
	delete(s.loops, clusterName)
	s.mu.Unlock()

	if ok {
		l.cancel()
		<-l.done
	}
}

func (s *loopScheduler) Interval(clusterName string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loops[clusterName]
	if !ok {
		return 0, false
	}
	return time.Duration(l.interval.Load()), true
}

func (s *loopScheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	loops := s.loops
	s.loops = make(map[string]*loop)
	s.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *loopScheduler) run(ctx context.Context, clusterName string, u Updater, l *loop) {
	defer close(l.done)

	interval := time.Duration(l.interval.Load())
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		change, err := u.Update(ctx, clusterName)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			Logger.Warningf("Update of %s failed: %v", clusterName, err)
		} else if change == nil {
			Logger.Infof("Stopped updates of %s, cluster is not joined", clusterName)
			return
		}

		next := s.next(interval, change, err)
		if next != interval {
			Logger.Debugf("Next update of %s in %s (was %s)", clusterName, next, interval)
		}
		interval = next
		l.interval.Store(int64(interval))
		timer.Reset(interval)
	}
}
