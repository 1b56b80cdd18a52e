package fiberbus

import (
	"errors"
	"log/slog"

	"github.com/chenxilol/fiberbus/internal/errs"
	"github.com/chenxilol/fiberbus/internal/mailbox"
	"github.com/chenxilol/fiberbus/internal/topic"
)

var errNilRetainPayload = errors.New("retain: nil payload is not a synonym for unretain")

// publish walks the pubsub trie and attempts one non-blocking enqueue per
// matching subscription. It never blocks and never returns a delivery
// error — per-subscriber outcomes only ever affect that subscriber's drop
// counter (spec.md I6, "best-effort, never raise from publish").
func (b *Bus) publish(msg *Message) error {
	b.mu.RLock()
	var matched []*Subscription
	b.pubsubTrie.Each(msg.Topic, func(bkt *bucket) {
		for sub := range bkt.subs {
			matched = append(matched, sub)
		}
	})
	b.mu.RUnlock()

	b.metrics.PublishTotal.Inc()

	for _, sub := range matched {
		b.deliverToSubscription(sub, msg)
	}
	slog.Debug("publish fanout complete", "matched", len(matched))
	return nil
}

func (b *Bus) deliverToSubscription(sub *Subscription, msg *Message) {
	outcome := sub.mailbox.SendNonBlocking(msg)
	b.metrics.MailboxDepth.Observe(float64(sub.mailbox.Len()))
	switch outcome {
	case mailbox.Accepted:
		b.metrics.DeliveryAccepted.Inc()
	case mailbox.DroppedOldest:
		b.metrics.DeliveryDropped.Inc()
	case mailbox.Rejected:
		b.metrics.DeliveryRejected.Inc()
	case mailbox.SendClosed:
		// Closed subscriptions are ignored — a benign race between trie
		// snapshot and a concurrent Unsubscribe.
	}
}

// retain performs publish(msg) and then inserts msg into the retained
// store under msg.Topic, which must be concrete (no wildcards).
func (b *Bus) retain(msg *Message) error {
	if !b.wc.IsConcrete(msg.Topic) {
		return errs.New(errs.InvalidTopic)
	}
	if msg.Payload == nil {
		// spec.md §9: retain(t, nil) is rejected rather than treated as a
		// synonym for unretain — callers must call Unretain explicitly.
		return errs.Wrap(errs.InvalidTopic, errNilRetainPayload)
	}

	if err := b.publish(msg); err != nil {
		return err
	}

	b.mu.Lock()
	_ = b.retainedTrie.Insert(msg.Topic, msg)
	b.mu.Unlock()

	b.metrics.RetainTotal.Inc()
	return nil
}

// unretain deletes topic's retained entry, if any.
func (b *Bus) unretain(t Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retainedTrie.Delete(t)
	return nil
}

// subscribe validates pattern, registers a new Subscription in the
// pubsub trie, and replays matching retained messages into it.
func (b *Bus) subscribe(conn *Connection, pattern Topic, cfg subscribeConfig) (*Subscription, error) {
	if err := b.wc.Validate(pattern); err != nil {
		return nil, err
	}

	qlen := b.defaultQLength
	if cfg.hasLen {
		qlen = cfg.queueLen
	}
	full := b.defaultFull
	if cfg.hasFull {
		full = cfg.full
	}
	if full != DropOldest && full != RejectNewest {
		return nil, errs.New(errs.InvalidPolicy)
	}

	sub := &Subscription{
		bus:     b,
		conn:    conn,
		pattern: pattern,
		mailbox: mailbox.New[*Message](qlen, full),
	}

	b.mu.Lock()
	bkt, ok := b.pubsubTrie.Retrieve(pattern)
	if !ok {
		bkt = newBucket()
		_ = b.pubsubTrie.Insert(pattern, bkt)
	}
	bkt.subs[sub] = struct{}{}
	var retained []*Message
	b.retainedTrie.Each(pattern, func(m *Message) { retained = append(retained, m) })
	b.mu.Unlock()

	b.metrics.ActiveSubscriptions.Inc()

	for _, m := range retained {
		b.deliverToSubscription(sub, m)
	}

	slog.Debug("subscribed", "pattern", pattern, "queue_len", qlen, "full_policy", full, "retained_replayed", len(retained))
	return sub, nil
}

// removeSubscription removes sub from its bucket, pruning the bucket's
// trie node if it becomes empty (R2).
func (b *Bus) removeSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bkt, ok := b.pubsubTrie.Retrieve(sub.pattern)
	if !ok {
		return
	}
	delete(bkt.subs, sub)
	if len(bkt.subs) == 0 {
		b.pubsubTrie.Delete(sub.pattern)
	}
}

// bind registers a new Endpoint for the exact concrete topic, failing with
// already_bound if one is already registered.
func (b *Bus) bind(conn *Connection, concreteTopic Topic, cfg bindConfig) (*Endpoint, error) {
	if err := b.wc.Validate(concreteTopic); err != nil {
		return nil, err
	}
	if !b.wc.IsConcrete(concreteTopic) {
		return nil, errs.New(errs.InvalidTopic)
	}
	key, err := topic.CanonicalKey(concreteTopic)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidTopic, err)
	}

	qlen := b.defaultQLength
	if cfg.hasLen {
		qlen = cfg.queueLen
	}

	b.mu.Lock()
	if _, exists := b.endpoints[key]; exists {
		b.mu.Unlock()
		return nil, errs.New(errs.AlreadyBound)
	}
	ep := &Endpoint{
		bus:     b,
		conn:    conn,
		topic:   concreteTopic,
		key:     key,
		mailbox: mailbox.New[*Message](qlen, RejectNewest),
	}
	b.endpoints[key] = ep
	b.mu.Unlock()

	b.metrics.ActiveEndpoints.Inc()
	slog.Debug("endpoint bound", "topic", concreteTopic, "queue_len", qlen)
	return ep, nil
}

// removeEndpoint unregisters ep if it is still the endpoint registered
// for its key (guards against a stale remove racing a fresh Bind to the
// same topic).
func (b *Bus) removeEndpoint(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.endpoints[ep.key]; ok && cur == ep {
		delete(b.endpoints, ep.key)
	}
}

// publishOne delivers payload to the endpoint bound at concreteTopic, if
// any.
func (b *Bus) publishOne(concreteTopic Topic, msg *Message) (bool, error) {
	key, err := topic.CanonicalKey(concreteTopic)
	if err != nil {
		return false, errs.Wrap(errs.InvalidTopic, err)
	}

	b.mu.RLock()
	ep, ok := b.endpoints[key]
	b.mu.RUnlock()

	b.metrics.PublishOneTotal.Inc()

	if !ok {
		b.metrics.NoRouteTotal.Inc()
		return false, errs.New(errs.NoRoute)
	}

	switch ep.mailbox.SendNonBlocking(msg) {
	case mailbox.Accepted:
		b.metrics.DeliveryAccepted.Inc()
		return true, nil
	case mailbox.Rejected:
		b.metrics.DeliveryRejected.Inc()
		return false, errs.New(errs.Full)
	case mailbox.SendClosed:
		return false, errs.New(errs.Closed)
	default:
		// Endpoints are always reject_newest; drop_oldest cannot occur.
		return false, errs.New(errs.Full)
	}
}
