// Package queue serializes GATT operations: strict FIFO, at most one in flight.
//
// A Queue is not safe for concurrent use. It is owned by the session actor,
// which is the only goroutine that enqueues, completes, expires or flushes,
// so the single-inflight invariant needs no lock.
package queue

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/rsslink/internal/device"
)

// Dispatcher issues an operation to hardware. A nil error means the request was
// accepted and a completion callback will follow.
type Dispatcher interface {
	Dispatch(op Operation) error
}

// FailureHandler is told about operations the queue completed as failed on its own:
// dispatch errors and expired deadlines.
type FailureHandler func(op Operation, err error)

// Scheduler runs fire after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fire func()) (stop func())

// AfterFunc is the default Scheduler, backed by time.AfterFunc.
func AfterFunc(d time.Duration, fire func()) func() {
	t := time.AfterFunc(d, fire)
	return func() { t.Stop() }
}

// Options configures a Queue.
type Options struct {
	// Timeout bounds how long an operation may stay pending. Zero disables deadlines.
	Timeout time.Duration
	// Schedule arms deadlines. Defaults to time.AfterFunc.
	Schedule Scheduler
	// Expired is called from the Schedule goroutine when a deadline fires.
	// The owner must route it back and call Expire(seq).
	Expired   func(seq uint64)
	OnFailure FailureHandler
	Logger    *logrus.Logger
}

// Queue is an ordered backlog plus at most one pending operation.
type Queue struct {
	dispatcher Dispatcher
	opts       Options
	logger     *logrus.Logger

	items     []Operation
	pending   *Operation
	stopTimer func()
	nextSeq   uint64
}

// New creates an empty queue.
func New(dispatcher Dispatcher, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Schedule == nil {
		opts.Schedule = AfterFunc
	}
	return &Queue{
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
}

// Enqueue appends op and starts it right away if nothing is pending.
// Returns the sequence number assigned to op.
func (q *Queue) Enqueue(op Operation) uint64 {
	q.nextSeq++
	op.seq = q.nextSeq
	q.items = append(q.items, op)

	q.logger.WithFields(logrus.Fields{
		"op":      op.String(),
		"backlog": len(q.items),
	}).Debug("Operation enqueued")

	if q.pending == nil {
		q.executeNext()
	}
	return op.seq
}

// executeNext pops the head and dispatches it. Operations that fail to dispatch
// are completed as failed immediately and the next one is tried.
func (q *Queue) executeNext() {
	for q.pending == nil {
		if len(q.items) == 0 {
			q.logger.Debug("Operation queue drained")
			return
		}

		op := q.items[0]
		q.items[0] = Operation{}
		q.items = q.items[1:]

		q.pending = &op
		q.arm(op.seq)

		err := q.dispatcher.Dispatch(op)
		if err == nil {
			return
		}

		// Re-entrant completion may already have moved on.
		if q.pending == nil || q.pending.seq != op.seq {
			return
		}
		q.clearPending()

		q.logger.WithFields(logrus.Fields{
			"op":    op.String(),
			"error": err,
		}).Warn("Operation could not be dispatched")
		q.fail(op, err)
	}
}

// Complete clears the pending operation if it matches kind and characteristic,
// then starts the next one. It returns the completed operation.
// A completion that matches nothing is ignored.
func (q *Queue) Complete(kind Kind, characteristic string) (Operation, bool) {
	if q.pending == nil || q.pending.Kind != kind || !device.SameUUID(q.pending.Characteristic, characteristic) {
		q.logger.WithFields(logrus.Fields{
			"kind":           kind,
			"characteristic": characteristic,
		}).Debug("Ignoring completion with no matching pending operation")
		return Operation{}, false
	}

	op := *q.pending
	q.clearPending()
	q.executeNext()
	return op, true
}

// Expire fails the pending operation with device.ErrTimeout if its sequence
// number is seq, then starts the next one. Stale deadlines are ignored.
func (q *Queue) Expire(seq uint64) (Operation, bool) {
	if q.pending == nil || q.pending.seq != seq {
		return Operation{}, false
	}

	op := *q.pending
	q.clearPending()

	q.logger.WithFields(logrus.Fields{
		"op":      op.String(),
		"timeout": q.opts.Timeout,
	}).Warn("Operation timed out")

	q.fail(op, device.ErrTimeout)
	q.executeNext()
	return op, true
}

// Flush drops the pending operation and the backlog. Returns the number dropped.
// A completion for the dropped pending operation is ignored if it arrives later.
func (q *Queue) Flush() int {
	n := len(q.items)
	if q.pending != nil {
		n++
	}
	q.clearPending()
	q.items = nil

	if n > 0 {
		q.logger.WithField("dropped", n).Debug("Operation queue flushed")
	}
	return n
}

// Pending returns the operation currently on the hardware.
func (q *Queue) Pending() (Operation, bool) {
	if q.pending == nil {
		return Operation{}, false
	}
	return *q.pending, true
}

// Len returns the number of operations waiting behind the pending one.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) arm(seq uint64) {
	if q.opts.Timeout <= 0 || q.opts.Expired == nil {
		return
	}
	expired := q.opts.Expired
	q.stopTimer = q.opts.Schedule(q.opts.Timeout, func() { expired(seq) })
}

func (q *Queue) clearPending() {
	if q.stopTimer != nil {
		q.stopTimer()
		q.stopTimer = nil
	}
	q.pending = nil
}

func (q *Queue) fail(op Operation, err error) {
	if q.opts.OnFailure != nil {
		q.opts.OnFailure(op, err)
	}
}
