package fiberbus

import (
	"context"
	"sync"

	"github.com/chenxilol/fiberbus/internal/errs"
	"github.com/chenxilol/fiberbus/internal/mailbox"
	"github.com/chenxilol/fiberbus/internal/scheduler"
)

// Subscription is a lane-A (fanout pubsub) consumer: a pattern, a bounded
// mailbox, and the connection that owns it.
type Subscription struct {
	bus     *Bus
	conn    *Connection
	pattern Topic
	mailbox *mailbox.Mailbox[*Message]

	once sync.Once
}

// RecvResult is the outcome of one receive attempt: exactly one of Msg or
// Err is set.
type RecvResult struct {
	Msg *Message
	Err error
}

// RecvOp returns a selectable operation resolving to the next message, or
// the subscription's close reason once it is closed and drained. Compose
// it with scheduler.Choice/NamedChoice against an external timeout or
// cancellation op, or run it directly with scheduler.Perform.
func (s *Subscription) RecvOp() scheduler.Op[RecvResult] {
	return scheduler.NewPrimitive(
		func() (RecvResult, bool) {
			r, ok := s.mailbox.TryRecv()
			if !ok {
				return RecvResult{}, false
			}
			return toRecvResult(r), true
		},
		func(ctx context.Context) (RecvResult, error) {
			for {
				select {
				case <-ctx.Done():
					return RecvResult{}, errs.FromContext(ctx.Err())
				case <-s.mailbox.WaitCh():
				}
				if r, ok := s.mailbox.TryRecv(); ok {
					return toRecvResult(r), nil
				}
			}
		},
	)
}

func toRecvResult(r mailbox.RecvResult[*Message]) RecvResult {
	if r.HasMsg {
		return RecvResult{Msg: r.Msg}
	}
	return RecvResult{Err: errs.New(r.Reason)}
}

// Recv suspends the caller until a message arrives or the subscription
// closes, honoring ctx cancellation.
func (s *Subscription) Recv(ctx context.Context) (*Message, error) {
	res, err := scheduler.Perform(ctx, s.RecvOp())
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Msg, nil
}

// Iter returns a channel of messages that closes once the subscription
// closes or ctx is cancelled. This is the Go analogue of the spec's
// iter().
func (s *Subscription) Iter(ctx context.Context) <-chan *Message {
	out := make(chan *Message)
	go func() {
		defer close(out)
		for {
			msg, err := s.Recv(ctx)
			if err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Payloads projects Iter to payloads only.
func (s *Subscription) Payloads(ctx context.Context) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for msg := range s.Iter(ctx) {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Dropped reports the cumulative count of messages lost to this
// subscription's mailbox full-policy.
func (s *Subscription) Dropped() uint64 {
	return s.mailbox.Dropped()
}

// Unsubscribe is idempotent: it removes the subscription from the bus,
// closes its mailbox with reason "unsubscribed" (waking any blocked
// receiver), and is safe to call even after the owning connection has
// disconnected.
func (s *Subscription) Unsubscribe() {
	s.detach(errs.Unsubscribed)
}

// detach is the single place a subscription ever leaves the bus — via
// explicit Unsubscribe or via Connection.Disconnect's drain — guarded by
// once so the close reason is set exactly once (I7).
func (s *Subscription) detach(reason errs.Kind) {
	s.once.Do(func() {
		s.bus.removeSubscription(s)
		s.conn.forgetSubscription(s)
		s.mailbox.Close(reason)
		s.bus.metrics.ActiveSubscriptions.Dec()
	})
}
