// Package events carries the typed run events a turn loop mirrors to its
// consumer: one bounded queue per run, single producer, single consumer.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// Event is one typed run event. Payload shape depends on Name.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// ErrClosed is returned by Pull after Close once the queue drains.
var ErrClosed = errors.New("event queue closed")

// Queue is a bounded single-producer/single-consumer event queue. Push blocks
// when full; Close drains pending pulls with ErrClosed; Fail rejects pending
// and future pulls with the given error.
//
// ch is never closed: the consumer can reach Close concurrently with a
// producer blocked in Push, and a close would turn that send into a panic.
// Termination is signalled through done only; Pull drains the buffer with
// non-blocking receives once done is closed.
type Queue struct {
	ch chan Event

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues one event, blocking on backpressure. Returns false when the
// queue is closed or failed, or ctx is cancelled.
func (q *Queue) Push(ctx context.Context, e Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	select {
	case q.ch <- e:
		return true
	case <-q.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Pull dequeues the next event. After Close it keeps returning buffered
// events, then ErrClosed. After Fail it returns the failure immediately.
// Consumer cancellation closes the queue.
func (q *Queue) Pull(ctx context.Context) (Event, error) {
	q.mu.Lock()
	failed := q.err
	q.mu.Unlock()
	if failed != nil {
		return Event{}, failed
	}

	select {
	case e := <-q.ch:
		return e, nil
	default:
	}

	select {
	case e := <-q.ch:
		return e, nil
	case <-q.done:
		// Drain anything raced in before the close.
		select {
		case e := <-q.ch:
			return e, nil
		default:
		}
		return Event{}, q.terminalErr()
	case <-ctx.Done():
		q.Close()
		return Event{}, ctx.Err()
	}
}

// Close marks the queue done. Buffered events stay consumable; pending and
// future pulls past the buffer get ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Fail closes the queue with a terminal error that pending and future pulls
// observe instead of ErrClosed.
func (q *Queue) Fail(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	close(q.done)
	q.mu.Unlock()
}

func (q *Queue) terminalErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	return ErrClosed
}

// Status payload helpers.

// StatusPayload accompanies protocol.EventStatus events.
type StatusPayload struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// CompactionPayload accompanies compaction start/end events.
type CompactionPayload struct {
	MarkerMessageID string `json:"markerMessageId"`
	Status          string `json:"status,omitempty"` // end only
}

// Debug builds a debug event.
func Debug(msg string) Event {
	return Event{Name: protocol.EventDebug, Payload: msg}
}

// Notice builds a notice event.
func Notice(msg string) Event {
	return Event{Name: protocol.EventNotice, Payload: msg}
}
