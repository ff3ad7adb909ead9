// Package lockmgr implements the per-document write locks of a node.
//
// Every node owns the locks of the documents it owns: put and remove take the
// lock of their key before touching the store, and clients reach the same locks
// through the lock-acquire and lock-release commands, which are routed to the
// owning node like any single-key operation.
//
// Core Functionality:
//   - Lock acquisition with ownership verification through a random owner ID
//   - Leases: every lock expires after a configurable time unless released
//   - A ceiling on simultaneously held locks
//
// Leases:
//
//	Held locks are kept in a deadline heap keyed by "bucket/key". A reaper
//	goroutine sleeps until the earliest lease runs out and frees every expired
//	lock. This bounds the damage of locks abandoned by clients or peers that
//	left the cluster.
//
// Concurrency Level:
//
//	AcquireLock fails fast when the ceiling is reached, Lock waits until a lock
//	is freed or its context is done.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(1024, 30*time.Second)
//	defer locks.Close()
//
//	acquired, ownerID, err := locks.AcquireLock("users", "123", 10*time.Second)
//	if err == nil && acquired {
//	    // use the resource
//	    _, _ = locks.ReleaseLock("users", "123", ownerID)
//	}
package lockmgr
