package fiberbus

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chenxilol/fiberbus/internal/busmetrics"
	"github.com/chenxilol/fiberbus/internal/scheduler"
	"github.com/chenxilol/fiberbus/internal/topic"
	"github.com/chenxilol/fiberbus/internal/uuidgen"
)

// bucket holds the set of open subscriptions whose pattern maps to one
// trie node. Multiple subscriptions sharing an identical pattern share one
// bucket.
type bucket struct {
	subs map[*Subscription]struct{}
}

func newBucket() *bucket {
	return &bucket{subs: make(map[*Subscription]struct{})}
}

// Bus is the pub/sub core: a topic-matching trie for live subscriptions, a
// literal trie for retained state, and an index of bound point-to-point
// endpoints. A Bus holds no process-wide global state — each instance owns
// its own metrics registry (spec.md §9 "Globals").
type Bus struct {
	mu sync.RWMutex

	wc topic.Wildcards

	pubsubTrie   *topic.Trie[*bucket]
	retainedTrie *topic.Trie[*Message]
	endpoints    map[string]*Endpoint

	connections map[*Connection]struct{}

	defaultQLength int
	defaultFull    FullPolicy

	uuidgen uuidgen.Generator

	metrics  *busmetrics.Metrics
	Registry *prometheus.Registry
}

// NewBus constructs a Bus with defaults overridden by opts.
func NewBus(opts ...Option) *Bus {
	o := DefaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	wc := topic.Wildcards{Single: o.SingleWildcard, Multi: o.MultiWildcard}
	m, registry := busmetrics.New(o.MetricsNamespace)

	b := &Bus{
		wc:             wc,
		pubsubTrie:     topic.New[*bucket](topic.ModePattern, wc),
		retainedTrie:   topic.New[*Message](topic.ModeLiteral, wc),
		endpoints:      make(map[string]*Endpoint),
		connections:    make(map[*Connection]struct{}),
		defaultQLength: o.QLength,
		defaultFull:    o.Full,
		uuidgen:        o.UUIDGen,
		metrics:        m,
		Registry:       registry,
	}
	slog.Info("bus initialized", "q_length", o.QLength, "full_policy", o.Full, "single_wildcard", o.SingleWildcard, "multi_wildcard", o.MultiWildcard)
	return b
}

// Connect creates a Connection bound to scope: when scope closes, the
// connection auto-disconnects, draining every subscription and endpoint it
// owns. Cancelling the scope's context without closing it does not
// disconnect. Passing a nil scope is valid — the
// caller is then responsible for calling Connection.Disconnect explicitly.
func (b *Bus) Connect(scope *scheduler.Scope) *Connection {
	conn := &Connection{
		bus:       b,
		subs:      make(map[*Subscription]struct{}),
		endpoints: make(map[*Endpoint]struct{}),
	}
	b.mu.Lock()
	b.connections[conn] = struct{}{}
	b.mu.Unlock()

	if scope != nil {
		conn.scope = scope
		scope.Defer(func() { _ = conn.Disconnect() })
	}

	slog.Debug("connection opened", "active_connections", len(b.connections))
	return conn
}

// BusStats is a point-in-time snapshot of dispatch-engine activity,
// surfaced for the ambient metrics stack (spec.md §5.1 of SPEC_FULL.md).
type BusStats struct {
	ActiveSubscriptions int
	ActiveEndpoints     int
	ActiveConnections   int
}

// Stats returns a snapshot of current bus occupancy. It never mutates
// dispatch state.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// The trie exposes only exact-query matching, not a "visit every
	// node" traversal (spec.md §4.1), so subscription counts are tallied
	// via the connection index instead; endpoints come from the endpoint
	// index.
	subs := 0
	for conn := range b.connections {
		conn.mu.Lock()
		subs += len(conn.subs)
		conn.mu.Unlock()
	}

	return BusStats{
		ActiveSubscriptions: subs,
		ActiveEndpoints:     len(b.endpoints),
		ActiveConnections:   len(b.connections),
	}
}
