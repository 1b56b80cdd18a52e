package fiberbus

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/chenxilol/fiberbus/internal/errs"
	"github.com/chenxilol/fiberbus/internal/scheduler"
)

// Connection is an ownership container for the subscriptions and
// endpoints it creates. It moves monotonically from open to disconnected.
type Connection struct {
	bus   *Bus
	scope *scheduler.Scope

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	endpoints map[*Endpoint]struct{}

	disconnected   atomic.Bool
	disconnectOnce sync.Once
	disconnectErr  error
}

func (c *Connection) checkOpen() error {
	if c.disconnected.Load() {
		return errs.New(errs.Disconnected)
	}
	return nil
}

// Publish sends payload to topic, fanning out to every matching
// subscription. It never blocks (I6).
func (c *Connection) Publish(t Topic, payload any, opts ...PublishOption) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	var cfg publishConfig
	for _, apply := range opts {
		apply(&cfg)
	}
	return c.bus.publish(&Message{Topic: t, Payload: payload, ReplyTo: cfg.replyTo, ID: cfg.id})
}

// Retain performs Publish and stores payload as the last-known value for
// the exact (concrete) topic t.
func (c *Connection) Retain(t Topic, payload any, opts ...PublishOption) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	var cfg publishConfig
	for _, apply := range opts {
		apply(&cfg)
	}
	return c.bus.retain(&Message{Topic: t, Payload: payload, ReplyTo: cfg.replyTo, ID: cfg.id})
}

// Unretain deletes the retained entry for the exact topic t, if any.
func (c *Connection) Unretain(t Topic) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.bus.unretain(t)
}

// Subscribe registers pattern (which may contain wildcards) and replays
// any matching retained messages into the new Subscription's mailbox.
func (c *Connection) Subscribe(pattern Topic, opts ...SubscribeOption) (*Subscription, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var cfg subscribeConfig
	for _, apply := range opts {
		apply(&cfg)
	}
	sub, err := c.bus.subscribe(c, pattern, cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub, nil
}

// Unsubscribe closes sub. Fails with disconnected if the connection is
// already disconnected (the owned set is empty by then anyway, per I4);
// call Subscription.Unsubscribe directly for an unconditionally idempotent
// close. sub.detach forgets the subscription from this connection's owned
// set, so Stats() never over-counts a subscription closed this way.
func (c *Connection) Unsubscribe(sub *Subscription) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	sub.Unsubscribe()
	return nil
}

// forgetSubscription removes sub from the owned set without touching its
// mailbox; called from Subscription.detach so every close path (explicit
// Unsubscribe, Connection.Disconnect's drain) keeps the owned set accurate.
func (c *Connection) forgetSubscription(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

// Bind registers a temporary point-to-point endpoint for the exact
// concrete topic t.
func (c *Connection) Bind(t Topic, opts ...BindOption) (*Endpoint, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	var cfg bindConfig
	for _, apply := range opts {
		apply(&cfg)
	}
	ep, err := c.bus.bind(c, t, cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.endpoints[ep] = struct{}{}
	c.mu.Unlock()
	return ep, nil
}

// Unbind closes ep. ep.detach forgets the endpoint from this connection's
// owned set, so Stats() never over-counts an endpoint closed this way.
func (c *Connection) Unbind(ep *Endpoint) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ep.Unbind()
	return nil
}

// forgetEndpoint removes ep from the owned set without touching its
// mailbox; called from Endpoint.detach for the same reason
// forgetSubscription is.
func (c *Connection) forgetEndpoint(ep *Endpoint) {
	c.mu.Lock()
	delete(c.endpoints, ep)
	c.mu.Unlock()
}

// PublishOne attempts a single non-blocking delivery to the endpoint bound
// at the exact concrete topic t.
func (c *Connection) PublishOne(t Topic, payload any, opts ...PublishOption) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	var cfg publishConfig
	for _, apply := range opts {
		apply(&cfg)
	}
	return c.bus.publishOne(t, &Message{Topic: t, Payload: payload, ReplyTo: cfg.replyTo, ID: cfg.id})
}

// Disconnect snapshots and drains every subscription and endpoint this
// connection owns — closing each mailbox with reason "disconnected" — then
// removes the connection from the bus. Idempotent (P9): a second call
// returns the same result as the first with no further side effects.
func (c *Connection) Disconnect() error {
	c.disconnectOnce.Do(func() {
		c.disconnected.Store(true)

		c.mu.Lock()
		subs := c.subs
		eps := c.endpoints
		c.subs = nil
		c.endpoints = nil
		c.mu.Unlock()

		var aggregate error
		for sub := range subs {
			aggregate = multierr.Append(aggregate, detachSafely(func() { sub.detach(errs.Disconnected) }))
		}
		for ep := range eps {
			aggregate = multierr.Append(aggregate, detachSafely(func() { ep.detach(errs.Disconnected) }))
		}

		c.bus.mu.Lock()
		delete(c.bus.connections, c)
		c.bus.mu.Unlock()

		if c.scope != nil {
			c.scope.Cancel()
		}

		c.disconnectErr = aggregate
		slog.Debug("connection disconnected", "subscriptions_closed", len(subs), "endpoints_closed", len(eps))
	})
	return c.disconnectErr
}

// detachSafely runs fn, converting a panic (e.g. a misbehaving detach
// hook) into an error instead of tearing down the whole drain loop.
func detachSafely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during detach: %v", r)
		}
	}()
	fn()
	return nil
}
