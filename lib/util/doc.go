// Package util holds the small concurrency and hashing building blocks shared by
// the coordinator, the router and the lock manager.
//
//   - Queue: unbounded multi-producer single-consumer queue. The coordinator uses
//     one queue for join events and one for leave events so that events of the same
//     type are consumed by exactly one goroutine in arrival order.
//   - DeadlineHeap: min-heap of keys ordered by deadline with O(1) key lookup.
//     The lock manager uses it to find expired leases.
//   - HashString: seeded FNV-1a hash used for ring positions.
package util
