package processor

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

var Logger = logger.GetLogger("processor")

// ErrStopped is returned by Process after Stop
var ErrStopped = errors.New("processor stopped")

// Processor gates request execution. Work submitted with Process waits until the
// processor is started and not paused. Pause waits for all running work to drain,
// so a caller holding a pause may mutate routes and flush the store without any
// request observing the intermediate state.
type Processor struct {
	name string

	mu       sync.Mutex
	started  bool
	stopped  bool
	paused   int
	inflight int
	// closed and replaced whenever the gate opens or in-flight work drains
	changed chan struct{}

	pool *pool.Pool
}

// New creates a stopped processor running at most workers functions at once.
// workers <= 0 uses GOMAXPROCS * 4.
func New(name string, workers int) *Processor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) * 4
	}
	return &Processor{
		name:    name,
		changed: make(chan struct{}),
		pool:    pool.New().WithMaxGoroutines(workers),
	}
}

// Start opens the gate
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.notify()
	Logger.Infof("Processor %s started", p.name)
}

// Stop rejects all waiting and future work and waits for running work to finish
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.notify()
	for p.inflight > 0 {
		wait := p.changed
		p.mu.Unlock()
		<-wait
		p.mu.Lock()
	}
	p.mu.Unlock()

	p.pool.Wait()
	Logger.Infof("Processor %s stopped", p.name)
}

// Process runs fn once the gate is open and returns its panic, if any, as error.
// It returns ctx.Err() if ctx is done before fn could start.
func (p *Processor) Process(ctx context.Context, fn func()) error {
	if err := p.enter(ctx); err != nil {
		return err
	}

	var catcher panics.Catcher
	done := make(chan struct{})
	p.pool.Go(func() {
		defer close(done)
		defer p.leave()
		catcher.Try(fn)
	})
	<-done

	if r := catcher.Recovered(); r != nil {
		Logger.Errorf("Processor %s recovered: %s", p.name, r.String())
		return r.AsError()
	}
	return nil
}

// Pause closes the gate and waits until running work drained. Pauses are counted:
// the gate reopens after the last matching Resume. If ctx is done first the pause
// is withdrawn and ctx.Err() returned, the caller must not call Resume then.
func (p *Processor) Pause(ctx context.Context) error {
	p.mu.Lock()
	p.paused++
	for p.inflight > 0 {
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			p.mu.Lock()
			p.paused--
			if p.paused == 0 {
				p.notify()
			}
			p.mu.Unlock()
			return ctx.Err()
		}
		p.mu.Lock()
	}
	p.mu.Unlock()
	Logger.Debugf("Processor %s paused", p.name)
	return nil
}

// Resume undoes one Pause
func (p *Processor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused == 0 {
		Logger.Warningf("Processor %s resumed without pause", p.name)
		return
	}
	p.paused--
	if p.paused == 0 {
		p.notify()
		Logger.Debugf("Processor %s resumed", p.name)
	}
}

// IsPaused reports whether at least one pause is active
func (p *Processor) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused > 0
}

// InFlight returns the number of running functions
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (p *Processor) enter(ctx context.Context) error {
	p.mu.Lock()
	for {
		if p.stopped {
			p.mu.Unlock()
			return ErrStopped
		}
		if p.started && p.paused == 0 {
			p.inflight++
			p.mu.Unlock()
			return nil
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
	}
}

func (p *Processor) leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.inflight == 0 {
		p.notify()
	}
}

// notify wakes every goroutine waiting for a state change. Must be called with mu held.
func (p *Processor) notify() {
	close(p.changed)
	p.changed = make(chan struct{})
}
