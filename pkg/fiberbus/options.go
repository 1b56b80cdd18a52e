package fiberbus

import (
	"time"

	"github.com/chenxilol/fiberbus/internal/mailbox"
	"github.com/chenxilol/fiberbus/internal/uuidgen"
)

// FullPolicy selects mailbox overflow behavior. "block" is deliberately
// not representable here — spec.md's full-policy table rejects it at
// configure time, and Go's type leaves no way to even name the policy.
type FullPolicy = mailbox.FullPolicy

const (
	DropOldest   FullPolicy = mailbox.DropOldest
	RejectNewest FullPolicy = mailbox.RejectNewest
)

// Options configures a Bus at construction time.
type Options struct {
	QLength          int
	Full             FullPolicy
	SingleWildcard   string
	MultiWildcard    string
	MetricsNamespace string
	UUIDGen          uuidgen.Generator
}

// DefaultOptions returns spec.md §6's defaults.
func DefaultOptions() Options {
	return Options{
		QLength:          10,
		Full:             DropOldest,
		SingleWildcard:   "+",
		MultiWildcard:    "#",
		MetricsNamespace: "fiberbus",
		UUIDGen:          uuidgen.Default(),
	}
}

// Option mutates an Options value being built up for NewBus.
type Option func(*Options)

func WithQLength(n int) Option { return func(o *Options) { o.QLength = n } }

func WithFullPolicy(p FullPolicy) Option { return func(o *Options) { o.Full = p } }

func WithWildcards(single, multi string) Option {
	return func(o *Options) { o.SingleWildcard = single; o.MultiWildcard = multi }
}

func WithMetricsNamespace(ns string) Option { return func(o *Options) { o.MetricsNamespace = ns } }

func WithUUIDGenerator(g uuidgen.Generator) Option { return func(o *Options) { o.UUIDGen = g } }

// subscribeConfig holds per-subscribe options (spec.md §6: queue_len, full).
type subscribeConfig struct {
	queueLen int
	full     FullPolicy
	hasLen   bool
	hasFull  bool
}

// SubscribeOption overrides a bus-level default for one Subscribe call.
type SubscribeOption func(*subscribeConfig)

func WithQueueLen(n int) SubscribeOption {
	return func(c *subscribeConfig) { c.queueLen = n; c.hasLen = true }
}

func WithSubscribeFullPolicy(p FullPolicy) SubscribeOption {
	return func(c *subscribeConfig) { c.full = p; c.hasFull = true }
}

// bindConfig holds per-bind options (spec.md §6: queue_len; policy is
// always reject_newest for endpoints).
type bindConfig struct {
	queueLen int
	hasLen   bool
}

// BindOption overrides a bus-level default for one Bind call.
type BindOption func(*bindConfig)

func WithBindQueueLen(n int) BindOption {
	return func(c *bindConfig) { c.queueLen = n; c.hasLen = true }
}

// publishConfig holds per-publish options: reply_to and a correlation id.
type publishConfig struct {
	replyTo Topic
	id      any
}

// PublishOption attaches metadata to a single published Message.
type PublishOption func(*publishConfig)

func WithReplyTo(t Topic) PublishOption { return func(c *publishConfig) { c.replyTo = t } }

func WithMessageID(id any) PublishOption { return func(c *publishConfig) { c.id = id } }

// CallOptions configures call_op's admission retry loop and deadline.
type CallOptions struct {
	Timeout    time.Duration
	Deadline   time.Time
	Backoff    time.Duration
	BackoffMax time.Duration
	RequestID  any
}

// DefaultCallOptions returns spec.md §4.3's defaults: 1s timeout, 10ms
// initial backoff capped at 200ms.
func DefaultCallOptions() CallOptions {
	return CallOptions{
		Timeout:    1 * time.Second,
		Backoff:    10 * time.Millisecond,
		BackoffMax: 200 * time.Millisecond,
	}
}

// CallOption mutates CallOptions being built up for CallOp.
type CallOption func(*CallOptions)

func WithCallTimeout(d time.Duration) CallOption { return func(c *CallOptions) { c.Timeout = d } }

func WithCallDeadline(t time.Time) CallOption { return func(c *CallOptions) { c.Deadline = t } }

func WithCallBackoff(initial, max time.Duration) CallOption {
	return func(c *CallOptions) { c.Backoff = initial; c.BackoffMax = max }
}

func WithRequestID(id any) CallOption { return func(c *CallOptions) { c.RequestID = id } }
