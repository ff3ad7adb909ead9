package lockmgr

import (
	"context"
	"errors"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("lockmgr")

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("lock manager closed")

// ILockManager defines the interface for a per-(bucket, key) lock service.
type ILockManager interface {
	// AcquireLock tries to take the lock for bucket/key without waiting. The lock expires
	// after lease unless released earlier, a lease <= 0 uses the default lease.
	// Returns whether the lock was acquired and the owner ID needed to release it.
	// Acquisition fails (ok == false, no error) if the lock is held or the concurrency
	// ceiling is reached.
	AcquireLock(bucket, key string, lease time.Duration) (ok bool, ownerID string, err error)

	// ReleaseLock releases the lock for bucket/key if ownerID holds it.
	// Returns true if the lock was released or did not exist.
	ReleaseLock(bucket, key, ownerID string) (ok bool, err error)

	// Lock waits until the lock for bucket/key can be taken or ctx is done. The
	// returned function releases it, calling it more than once is harmless.
	Lock(ctx context.Context, bucket, key string) (unlock func(), err error)

	// LockAs is Lock on behalf of ownerID. If ownerID holds the lock from AcquireLock it
	// returns at once and the returned function leaves that lock in place.
	LockAs(ctx context.Context, bucket, key, ownerID string) (unlock func(), err error)

	// Held returns the number of currently held locks
	Held() int

	// Close stops the lease reaper and rejects all further operations
	Close()
}
