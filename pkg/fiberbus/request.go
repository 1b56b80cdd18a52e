package fiberbus

import (
	"context"

	"github.com/chenxilol/fiberbus/internal/errs"
	"github.com/chenxilol/fiberbus/internal/retry"
	"github.com/chenxilol/fiberbus/internal/scheduler"
)

// replyTopic mints a fresh, collision-free concrete topic for one
// request's reply address, scoped under "_reply".
func (c *Connection) replyTopic() Topic {
	id := c.bus.uuidgen.New()
	return Topic{Literal{Value: "_reply"}, Literal{Value: id}}
}

// RequestSub subscribes to a freshly minted reply topic and publishes msg
// to topic with ReplyTo set to that address. The returned Subscription
// receives replies; the caller is responsible for eventually calling
// Unsubscribe (request_once_op does this for you).
func (c *Connection) RequestSub(topic Topic, payload any, opts ...CallOption) (*Subscription, error) {
	cfg := DefaultCallOptions()
	for _, apply := range opts {
		apply(&cfg)
	}

	reply := c.replyTopic()
	sub, err := c.Subscribe(reply, WithQueueLen(1))
	if err != nil {
		return nil, err
	}

	if err := c.Publish(topic, payload, WithReplyTo(reply), WithMessageID(cfg.RequestID)); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

// RequestOnceOp publishes msg to topic and waits for exactly one reply,
// unsubscribing the temporary reply subscription on every exit path
// (scheduler.Bracket). This is the Go analogue of spec.md's
// request_once_op.
func (c *Connection) RequestOnceOp(ctx context.Context, topic Topic, payload any, opts ...CallOption) (*Message, error) {
	cfg := DefaultCallOptions()
	for _, apply := range opts {
		apply(&cfg)
	}

	callCtx, cancel := callContext(ctx, cfg)
	defer cancel()

	return scheduler.Bracket(
		callCtx,
		func(ctx context.Context) (*Subscription, error) {
			return c.RequestSub(topic, payload, opts...)
		},
		func(sub *Subscription) { sub.Unsubscribe() },
		func(ctx context.Context, sub *Subscription) (*Message, error) {
			return sub.Recv(ctx)
		},
	)
}

// CallOp binds a temporary endpoint for the reply address, retries
// publishing to topic via PublishOne until it is admitted (no_route and
// full both mean "not ready yet" and are retried with backoff) or the
// deadline elapses, then races the reply against that same deadline. The
// endpoint is unbound on every exit path (scheduler.Bracket). This is the
// Go analogue of spec.md's call_op.
func (c *Connection) CallOp(ctx context.Context, topic Topic, payload any, opts ...CallOption) (*Message, error) {
	cfg := DefaultCallOptions()
	for _, apply := range opts {
		apply(&cfg)
	}

	callCtx, cancel := callContext(ctx, cfg)
	defer cancel()
	deadline, _ := callCtx.Deadline()

	return scheduler.Bracket(
		callCtx,
		func(ctx context.Context) (*Endpoint, error) {
			return c.Bind(c.replyTopic())
		},
		func(ep *Endpoint) { c.Unbind(ep) },
		func(ctx context.Context, ep *Endpoint) (*Message, error) {
			publishErr := retry.UntilDeadline(ctx, "call_op.publish", deadline, cfg.Backoff, cfg.BackoffMax, func() error {
				ok, err := c.PublishOne(topic, payload, WithReplyTo(ep.Topic()), WithMessageID(cfg.RequestID))
				if err != nil {
					return err
				}
				if !ok {
					return errs.New(errs.NoRoute)
				}
				return nil
			})
			if publishErr != nil {
				return nil, admissionGiveUpErr(publishErr)
			}
			msg, err := ep.Recv(ctx)
			if err != nil {
				return nil, err
			}
			return msg, nil
		},
	)
}

// callContext derives a context bound by whichever of cfg.Deadline or
// cfg.Timeout is set (Deadline takes precedence), falling back to
// DefaultCallOptions().Timeout if neither is set.
func callContext(parent context.Context, cfg CallOptions) (context.Context, context.CancelFunc) {
	if !cfg.Deadline.IsZero() {
		return context.WithDeadline(parent, cfg.Deadline)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallOptions().Timeout
	}
	return context.WithTimeout(parent, timeout)
}

// admissionGiveUpErr converts the error retry.UntilDeadline gives up with
// into the Kind a CallOp caller should see. An explicit cancellation stays
// Cancelled; everything else (the deadline itself, or a last admission
// attempt that still found no route or a full mailbox) means the caller
// waited the whole deadline for a route that never opened up, surfaced as
// Timeout.
func admissionGiveUpErr(err error) error {
	if err == context.Canceled {
		return errs.New(errs.Cancelled)
	}
	return errs.New(errs.Timeout)
}
