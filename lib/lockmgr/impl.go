package lockmgr

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/util"
)

const (
	// DefaultConcurrency is the ceiling on simultaneously held locks
	DefaultConcurrency = 1024
	// DefaultLease is the lifetime of a lock nobody releases
	DefaultLease = 30 * time.Second
)

type heldLock struct {
	ownerID  string
	released chan struct{}
}

type lockMgrImpl struct {
	mu     sync.Mutex
	locks  map[string]*heldLock
	leases *util.DeadlineHeap[string]
	limit  int
	lease  time.Duration

	// closed and replaced whenever a lock is freed, wakes waiters blocked on the ceiling
	freed chan struct{}
	// wakes the reaper when the earliest lease changes
	rescheduled chan struct{}
	closed      bool
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewLockManager creates a lock manager holding at most concurrency locks at once.
// Values <= 0 select the defaults.
func NewLockManager(concurrency int, lease time.Duration) ILockManager {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	lm := &lockMgrImpl{
		locks:       make(map[string]*heldLock),
		leases:      util.NewDeadlineHeap[string](),
		limit:       concurrency,
		lease:       lease,
		freed:       make(chan struct{}),
		rescheduled: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	lm.wg.Add(1)
	go lm.reap()
	return lm
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr.ILockManager)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(bucket, key string, lease time.Duration) (bool, string, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closed {
		return false, "", ErrClosed
	}
	ownerID, _ := lm.tryAcquire(lockID(bucket, key), lease)
	return ownerID != "", ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(bucket, key, ownerID string) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closed {
		return false, ErrClosed
	}
	id := lockID(bucket, key)
	held, ok := lm.locks[id]
	if !ok {
		return true, nil
	}
	if held.ownerID != ownerID {
		return false, nil
	}
	lm.release(id)
	return true, nil
}

func (lm *lockMgrImpl) Lock(ctx context.Context, bucket, key string) (func(), error) {
	return lm.LockAs(ctx, bucket, key, "")
}

func (lm *lockMgrImpl) LockAs(ctx context.Context, bucket, key, holder string) (func(), error) {
	id := lockID(bucket, key)
	for {
		lm.mu.Lock()
		if lm.closed {
			lm.mu.Unlock()
			return nil, ErrClosed
		}
		if held, ok := lm.locks[id]; ok && holder != "" && held.ownerID == holder {
			lm.mu.Unlock()
			return func() {}, nil
		}
		ownerID, wait := lm.tryAcquire(id, 0)
		lm.mu.Unlock()

		if ownerID != "" {
			var once sync.Once
			return func() {
				once.Do(func() {
					if _, err := lm.ReleaseLock(bucket, key, ownerID); err != nil {
						Logger.Debugf("Release of %s after close: %v", id, err)
					}
				})
			}, nil
		}

		select {
		case <-wait:
		case <-lm.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (lm *lockMgrImpl) Held() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}

func (lm *lockMgrImpl) Close() {
	lm.mu.Lock()
	if lm.closed {
		lm.mu.Unlock()
		return
	}
	lm.closed = true
	close(lm.done)
	lm.mu.Unlock()
	lm.wg.Wait()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// tryAcquire takes the lock id if possible and returns the new owner ID. Otherwise it
// returns a channel that is closed once retrying may succeed. Must be called with mu held.
func (lm *lockMgrImpl) tryAcquire(id string, lease time.Duration) (string, <-chan struct{}) {
	if held, ok := lm.locks[id]; ok {
		return "", held.released
	}
	if len(lm.locks) >= lm.limit {
		return "", lm.freed
	}
	if lease <= 0 {
		lease = lm.lease
	}

	ownerID := generateOwnerID()
	lm.locks[id] = &heldLock{ownerID: ownerID, released: make(chan struct{})}

	lm.leases.Schedule(id, time.Now().Add(lease))
	select {
	case lm.rescheduled <- struct{}{}:
	default:
	}
	return ownerID, nil
}

// release frees the lock id and wakes its waiters. Must be called with mu held.
func (lm *lockMgrImpl) release(id string) {
	held, ok := lm.locks[id]
	if !ok {
		return
	}
	delete(lm.locks, id)
	lm.leases.Cancel(id)
	close(held.released)
	close(lm.freed)
	lm.freed = make(chan struct{})
}

// reap frees locks whose lease expired
func (lm *lockMgrImpl) reap() {
	defer lm.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		lm.mu.Lock()
		for _, id := range lm.leases.PopExpired(time.Now()) {
			Logger.Warningf("Lease of lock %s expired", id)
			lm.release(id)
		}
		wait := time.Hour
		if _, deadline, ok := lm.leases.Next(); ok {
			wait = time.Until(deadline)
		}
		lm.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-lm.rescheduled:
		case <-lm.done:
			return
		}
	}
}
