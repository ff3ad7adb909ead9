package util

import (
	"container/heap"
	"time"
)

// deadlineEntry is a key scheduled at a deadline
type deadlineEntry[K comparable] struct {
	key      K
	deadline time.Time
	index    int
}

// entries implements heap.Interface ordered by deadline
type entries[K comparable] struct {
	items []*deadlineEntry[K]
	byKey map[K]*deadlineEntry[K]
}

func (e *entries[K]) Len() int { return len(e.items) }

func (e *entries[K]) Less(i, j int) bool {
	return e.items[i].deadline.Before(e.items[j].deadline)
}

func (e *entries[K]) Swap(i, j int) {
	e.items[i], e.items[j] = e.items[j], e.items[i]
	e.items[i].index = i
	e.items[j].index = j
}

func (e *entries[K]) Push(x any) {
	entry := x.(*deadlineEntry[K])
	entry.index = len(e.items)
	e.items = append(e.items, entry)
	e.byKey[entry.key] = entry
}

func (e *entries[K]) Pop() any {
	n := len(e.items)
	entry := e.items[n-1]
	e.items[n-1] = nil
	entry.index = -1
	e.items = e.items[:n-1]
	delete(e.byKey, entry.key)
	return entry
}

// DeadlineHeap keeps keys ordered by deadline and supports lookup and removal by key.
// It is not safe for concurrent use.
type DeadlineHeap[K comparable] struct {
	e entries[K]
}

// NewDeadlineHeap creates an empty heap
func NewDeadlineHeap[K comparable]() *DeadlineHeap[K] {
	return &DeadlineHeap[K]{e: entries[K]{byKey: make(map[K]*deadlineEntry[K])}}
}

// Len returns the number of scheduled keys
func (h *DeadlineHeap[K]) Len() int { return h.e.Len() }

// Schedule sets the deadline of key, replacing an earlier one
func (h *DeadlineHeap[K]) Schedule(key K, deadline time.Time) {
	if entry, ok := h.e.byKey[key]; ok {
		entry.deadline = deadline
		heap.Fix(&h.e, entry.index)
		return
	}
	heap.Push(&h.e, &deadlineEntry[K]{key: key, deadline: deadline})
}

// Cancel removes key. It reports whether the key was scheduled.
func (h *DeadlineHeap[K]) Cancel(key K) bool {
	entry, ok := h.e.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&h.e, entry.index)
	return true
}

// Deadline returns the deadline of key
func (h *DeadlineHeap[K]) Deadline(key K) (time.Time, bool) {
	entry, ok := h.e.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return entry.deadline, true
}

// Next returns the earliest deadline
func (h *DeadlineHeap[K]) Next() (K, time.Time, bool) {
	if len(h.e.items) == 0 {
		var zero K
		return zero, time.Time{}, false
	}
	first := h.e.items[0]
	return first.key, first.deadline, true
}

// PopExpired removes and returns every key whose deadline is not after now,
// earliest first.
func (h *DeadlineHeap[K]) PopExpired(now time.Time) []K {
	var expired []K
	for len(h.e.items) > 0 && !h.e.items[0].deadline.After(now) {
		entry := heap.Pop(&h.e).(*deadlineEntry[K])
		expired = append(expired, entry.key)
	}
	return expired
}
