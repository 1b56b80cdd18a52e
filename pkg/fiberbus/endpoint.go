package fiberbus

import (
	"context"
	"sync"

	"github.com/chenxilol/fiberbus/internal/errs"
	"github.com/chenxilol/fiberbus/internal/mailbox"
	"github.com/chenxilol/fiberbus/internal/scheduler"
)

// Endpoint is a lane-B (admission-signalled point-to-point) consumer bound
// to one concrete topic. Only PublishOne can deliver into it — the pubsub
// fanout path never reaches an endpoint.
type Endpoint struct {
	bus     *Bus
	conn    *Connection
	topic   Topic
	key     string
	mailbox *mailbox.Mailbox[*Message]

	once sync.Once
}

// RecvOp mirrors Subscription.RecvOp.
func (e *Endpoint) RecvOp() scheduler.Op[RecvResult] {
	return scheduler.NewPrimitive(
		func() (RecvResult, bool) {
			r, ok := e.mailbox.TryRecv()
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
				case <-e.mailbox.WaitCh():
				}
				if r, ok := e.mailbox.TryRecv(); ok {
					return toRecvResult(r), nil
				}
			}
		},
	)
}

// Recv suspends the caller until a message arrives or the endpoint
// closes, honoring ctx cancellation.
func (e *Endpoint) Recv(ctx context.Context) (*Message, error) {
	res, err := scheduler.Perform(ctx, e.RecvOp())
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Msg, nil
}

// Topic returns the concrete topic this endpoint is bound to.
func (e *Endpoint) Topic() Topic {
	return e.topic
}

// Unbind is idempotent: it removes the endpoint from the bus's index and
// closes its mailbox with reason "unbound".
func (e *Endpoint) Unbind() {
	e.detach(errs.Unbound)
}

func (e *Endpoint) detach(reason errs.Kind) {
	e.once.Do(func() {
		e.bus.removeEndpoint(e)
		e.conn.forgetEndpoint(e)
		e.mailbox.Close(reason)
		e.bus.metrics.ActiveEndpoints.Dec()
	})
}
