// Package mailbox implements the bounded FIFO with overflow policy and
// close-reason semantics that subscriptions and endpoints deliver into.
package mailbox

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/chenxilol/fiberbus/internal/errs"
)

// FullPolicy selects what happens when SendNonBlocking is attempted
// against a mailbox at capacity.
type FullPolicy int

const (
	// DropOldest evicts the oldest queued item and enqueues the new one.
	DropOldest FullPolicy = iota
	// RejectNewest discards the new item, leaving the queue untouched.
	RejectNewest
)

// SendOutcome is the result of a single SendNonBlocking attempt.
type SendOutcome int

const (
	Accepted SendOutcome = iota
	DroppedOldest
	Rejected
	SendClosed
)

// Mailbox is a bounded FIFO with a full-policy and a monotonic close
// reason. A send never blocks (spec.md I6). Capacity 0 is treated as
// capacity 1: New raises it to one slot, so a send with no receiver waiting
// is accepted into that slot rather than refused, and the full policy
// applies from the second undelivered item on. Whether a receiver is
// waiting at send time is not tracked.
type Mailbox[T any] struct {
	mu       sync.Mutex
	buf      []T
	cap      int
	policy   FullPolicy
	closed   bool
	reason   errs.Kind
	dropped  atomic.Uint64
	notifyCh chan struct{} // signalled on every state change (enqueue or close)
}

// New constructs a Mailbox with the given capacity (≥0) and full policy.
func New[T any](capacity int, policy FullPolicy) *Mailbox[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox[T]{
		cap:      capacity,
		policy:   policy,
		notifyCh: make(chan struct{}, 1),
	}
}

func (m *Mailbox[T]) wake() {
	select {
	case m.notifyCh <- struct{}{}:
	default:
	}
}

// SendNonBlocking attempts a single non-blocking enqueue. It never blocks
// the caller (I6) and never panics on a closed mailbox.
func (m *Mailbox[T]) SendNonBlocking(v T) SendOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return SendClosed
	}

	if len(m.buf) < m.cap {
		m.buf = append(m.buf, v)
		m.wake()
		return Accepted
	}

	switch m.policy {
	case DropOldest:
		m.buf = append(m.buf[1:], v)
		m.dropped.Add(1)
		m.wake()
		return DroppedOldest
	default: // RejectNewest
		m.dropped.Add(1)
		return Rejected
	}
}

// RecvResult is what a receive resolves to: a message or a close reason,
// never both.
type RecvResult[T any] struct {
	Msg    T
	HasMsg bool
	Reason errs.Kind // set (non-empty) only when HasMsg is false
}

// TryRecv performs a non-blocking receive attempt: a buffered item if one
// is present, otherwise the close reason if closed-and-drained, otherwise
// ok=false (caller should wait and retry).
func (m *Mailbox[T]) TryRecv() (result RecvResult[T], ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buf) > 0 {
		v := m.buf[0]
		m.buf = m.buf[1:]
		return RecvResult[T]{Msg: v, HasMsg: true}, true
	}
	if m.closed {
		return RecvResult[T]{Reason: m.reason}, true
	}
	return RecvResult[T]{}, false
}

// WaitCh returns a channel that receives a value whenever the mailbox's
// state changes (new item enqueued, or closed). Callers loop TryRecv/WaitCh
// to build a blocking receive; this is the primitive the scheduler's Op
// abstraction composes into recv_op.
func (m *Mailbox[T]) WaitCh() <-chan struct{} {
	return m.notifyCh
}

// Close attaches reason to the mailbox. Closure is monotonic (I7): once
// set, the reason never changes, and Close is idempotent. Buffered items
// are preserved and must be drained before TryRecv reports the reason
// (spec.md §9 "Closed mailbox semantics").
func (m *Mailbox[T]) Close(reason errs.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.reason = reason
	m.wake()
}

// Dropped reports the cumulative count of items lost to the full policy.
func (m *Mailbox[T]) Dropped() uint64 {
	return m.dropped.Load()
}

// Len reports the number of buffered, undelivered items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}
