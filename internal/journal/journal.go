// Package journal keeps a bounded history of recent values.
//
// Entries live in an overlapped MPMC ring: when the ring is full the oldest
// entry is overwritten, so recording never blocks and never fails for lack of room.
package journal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxSize guards against accidental misconfiguration.
const MaxSize uint32 = 64 * 1024

// Metrics is a point-in-time copy of the journal counters.
type Metrics struct {
	Recorded    int64
	Overwritten int64
	Errors      int64
}

// Journal is a fixed-size, overwrite-oldest history. All methods are thread-safe.
type Journal[T any] struct {
	mu     sync.Mutex
	buffer mpmc.RichOverlappedRingBuffer[T]

	recorded    atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// New creates a journal holding roughly size entries.
// The ring may round the size up.
func New[T any](size uint32) (*Journal[T], error) {
	if size == 0 {
		return nil, fmt.Errorf("journal size must be > 0")
	}
	if size > MaxSize {
		return nil, fmt.Errorf("journal size %d exceeds maximum %d", size, MaxSize)
	}

	return &Journal[T]{
		buffer: mpmc.NewOverlappedRingBuffer[T](size),
	}, nil
}

// Record appends v, overwriting the oldest entry when full.
func (j *Journal[T]) Record(v T) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enqueueLocked(v)
}

func (j *Journal[T]) enqueueLocked(v T) {
	overwrites, err := j.buffer.EnqueueM(v)
	if err != nil {
		j.errors.Add(1)
		return
	}
	j.overwritten.Add(int64(overwrites))
	j.recorded.Add(1)
}

// Snapshot returns every entry, oldest first, and leaves the journal intact.
func (j *Journal[T]) Snapshot() []T {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.drainLocked()
	for _, e := range entries {
		// Refill without touching the counters.
		if _, err := j.buffer.EnqueueM(e); err != nil {
			j.errors.Add(1)
		}
	}
	return entries
}

func (j *Journal[T]) drainLocked() []T {
	var entries []T
	for !j.buffer.IsEmpty() {
		e, err := j.buffer.Dequeue()
		if err != nil {
			j.errors.Add(1)
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// GetMetrics returns a copy of the current counters.
func (j *Journal[T]) GetMetrics() Metrics {
	return Metrics{
		Recorded:    j.recorded.Load(),
		Overwritten: j.overwritten.Load(),
		Errors:      j.errors.Load(),
	}
}
