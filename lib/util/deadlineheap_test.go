package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadlineHeapOrder(t *testing.T) {
	h := NewDeadlineHeap[string]()
	base := time.Unix(1000, 0)

	h.Schedule("c", base.Add(3*time.Second))
	h.Schedule("a", base.Add(1*time.Second))
	h.Schedule("b", base.Add(2*time.Second))

	key, deadline, ok := h.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", key)
	assert.Equal(t, base.Add(time.Second), deadline)

	assert.Equal(t, []string{"a", "b"}, h.PopExpired(base.Add(2*time.Second)))
	assert.Equal(t, 1, h.Len())
}

func TestDeadlineHeapRescheduleAndCancel(t *testing.T) {
	h := NewDeadlineHeap[uint64]()
	base := time.Unix(1000, 0)

	h.Schedule(1, base.Add(time.Second))
	h.Schedule(2, base.Add(2*time.Second))

	// pushing key 1 behind key 2
	h.Schedule(1, base.Add(5*time.Second))
	key, _, _ := h.Next()
	assert.Equal(t, uint64(2), key)

	deadline, ok := h.Deadline(1)
	assert.True(t, ok)
	assert.Equal(t, base.Add(5*time.Second), deadline)

	assert.True(t, h.Cancel(2))
	assert.False(t, h.Cancel(2))
	assert.Empty(t, h.PopExpired(base.Add(4*time.Second)))
	assert.Equal(t, []uint64{1}, h.PopExpired(base.Add(5*time.Second)))

	_, _, ok = h.Next()
	assert.False(t, ok)
}

func TestHashStringSeeded(t *testing.T) {
	assert.Equal(t, HashString("bucket/key", 0), HashString("bucket/key", 0))
	assert.NotEqual(t, HashString("bucket/key", 0), HashString("bucket/key", 1))
	assert.NotEqual(t, HashString("a", 0), HashString("b", 0))
}
