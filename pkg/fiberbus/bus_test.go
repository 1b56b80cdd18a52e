package fiberbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/chenxilol/fiberbus/internal/scheduler"
	"github.com/chenxilol/fiberbus/pkg/fiberbus"
)

func newTestConn(t *testing.T, bus *fiberbus.Bus) (*fiberbus.Connection, *scheduler.Scope) {
	t.Helper()
	scope := scheduler.NewScope(context.Background())
	conn := bus.Connect(scope)
	t.Cleanup(scope.Close)
	return conn, scope
}

func TestBasicPublishSubscribe(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	sub, err := conn.Subscribe(fiberbus.Topic{"rooms", "42", "chat"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := conn.Publish(fiberbus.Topic{"rooms", "42", "chat"}, "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Payload != "hello" {
		t.Fatalf("expected payload %q, got %v", "hello", msg.Payload)
	}
}

func TestWildcardSubscriptionMatchesPublish(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	sub, err := conn.Subscribe(fiberbus.Topic{"rooms", "+", "chat"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := conn.Publish(fiberbus.Topic{"rooms", "99", "chat"}, "hi"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Recv(ctx); err != nil {
		t.Fatalf("expected the single-level wildcard subscription to receive, got %v", err)
	}
}

func TestDropOldestOverflow(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	sub, err := conn.Subscribe(fiberbus.Topic{"metrics"}, fiberbus.WithQueueLen(1), fiberbus.WithSubscribeFullPolicy(fiberbus.DropOldest))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn.Publish(fiberbus.Topic{"metrics"}, 1)
	conn.Publish(fiberbus.Topic{"metrics"}, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Payload != 2 {
		t.Fatalf("expected drop_oldest to keep the newest value 2, got %v", msg.Payload)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("expected 1 dropped message, got %d", sub.Dropped())
	}
}

func TestRejectNewestOverflow(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	sub, err := conn.Subscribe(fiberbus.Topic{"metrics"}, fiberbus.WithQueueLen(1), fiberbus.WithSubscribeFullPolicy(fiberbus.RejectNewest))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn.Publish(fiberbus.Topic{"metrics"}, 1)
	conn.Publish(fiberbus.Topic{"metrics"}, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.Payload != 1 {
		t.Fatalf("expected reject_newest to keep the original value 1, got %v", msg.Payload)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("expected 1 dropped message, got %d", sub.Dropped())
	}
}

func TestRetainedReplayAndWildcardQuery(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	if err := conn.Retain(fiberbus.Topic{"sensors", "kitchen", "temp"}, 21.5); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := conn.Retain(fiberbus.Topic{"sensors", "bedroom", "temp"}, 19.0); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	sub, err := conn.Subscribe(fiberbus.Topic{"sensors", "+", "temp"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	seen := map[any]bool{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		msg, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		seen[msg.Payload] = true
	}
	if !seen[21.5] || !seen[19.0] {
		t.Fatalf("expected both retained values replayed on subscribe, got %v", seen)
	}
}

func TestUnretainRemovesReplay(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	topic := fiberbus.Topic{"status"}
	if err := conn.Retain(topic, "up"); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := conn.Unretain(topic); err != nil {
		t.Fatalf("Unretain: %v", err)
	}

	sub, err := conn.Subscribe(topic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(ctx); err == nil {
		t.Fatal("expected no replay after Unretain")
	}
}

func TestRetainRejectsNilPayload(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	if err := conn.Retain(fiberbus.Topic{"status"}, nil); err == nil {
		t.Fatal("expected Retain(topic, nil) to be rejected rather than treated as Unretain")
	}
}

func TestRequestOnceRoundTrip(t *testing.T) {
	bus := fiberbus.NewBus()
	requester, _ := newTestConn(t, bus)
	responder, _ := newTestConn(t, bus)

	req, err := responder.Subscribe(fiberbus.Topic{"service", "echo"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		msg, err := req.Recv(ctx)
		if err != nil {
			return
		}
		requester.Publish(msg.ReplyTo, "pong")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := requester.RequestOnceOp(ctx, fiberbus.Topic{"service", "echo"}, "ping")
	if err != nil {
		t.Fatalf("RequestOnceOp: %v", err)
	}
	if reply.Payload != "pong" {
		t.Fatalf("expected reply payload %q, got %v", "pong", reply.Payload)
	}
}

func TestCallOpTimesOutWithNoRoute(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	ctx := context.Background()
	_, err := conn.CallOp(ctx, fiberbus.Topic{"service", "nobody-home"}, "ping",
		fiberbus.WithCallTimeout(50*time.Millisecond),
		fiberbus.WithCallBackoff(5*time.Millisecond, 10*time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected CallOp to time out when no endpoint is ever bound")
	}
	if !fiberbus.IsKind(err, fiberbus.KindTimeout) {
		t.Fatalf("expected a timeout error, got %v", err)
	}
}

func TestCallOpDeliversToBoundEndpoint(t *testing.T) {
	bus := fiberbus.NewBus()
	caller, _ := newTestConn(t, bus)
	callee, _ := newTestConn(t, bus)

	ep, err := callee.Bind(fiberbus.Topic{"service", "add"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		msg, err := ep.Recv(ctx)
		if err != nil {
			return
		}
		callee.PublishOne(msg.ReplyTo, 42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := caller.CallOp(ctx, fiberbus.Topic{"service", "add"}, 2)
	if err != nil {
		t.Fatalf("CallOp: %v", err)
	}
	if reply.Payload != 42 {
		t.Fatalf("expected reply payload 42, got %v", reply.Payload)
	}
}

func TestPublishDoesNotReachBoundEndpoint(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	ep, err := conn.Bind(fiberbus.Topic{"service", "solo"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := conn.Publish(fiberbus.Topic{"service", "solo"}, "broadcast"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := ep.Recv(ctx); err == nil {
		t.Fatal("Publish must never be delivered to a bound endpoint — only PublishOne reaches it")
	}
}

func TestBindDuplicateTopicFails(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	if _, err := conn.Bind(fiberbus.Topic{"service", "dup"}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := conn.Bind(fiberbus.Topic{"service", "dup"}); !fiberbus.IsKind(err, fiberbus.KindAlreadyBound) {
		t.Fatalf("expected already_bound, got %v", err)
	}
}

func TestDisconnectClosesOwnedSubscriptions(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	sub, err := conn.Subscribe(fiberbus.Topic{"events"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(ctx); !fiberbus.IsKind(err, fiberbus.KindDisconnected) {
		t.Fatalf("expected disconnected, got %v", err)
	}

	// Disconnect is idempotent (P9).
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect must also succeed, got %v", err)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	sub, err := conn.Subscribe(fiberbus.Topic{"events"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(ctx); !fiberbus.IsKind(err, fiberbus.KindUnsubscribed) {
		t.Fatalf("expected unsubscribed, got %v", err)
	}
}

func TestBusStatsTracksActiveSubscriptions(t *testing.T) {
	bus := fiberbus.NewBus()
	conn, _ := newTestConn(t, bus)

	if got := bus.Stats().ActiveSubscriptions; got != 0 {
		t.Fatalf("expected 0 active subscriptions, got %d", got)
	}
	sub, err := conn.Subscribe(fiberbus.Topic{"events"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := bus.Stats().ActiveSubscriptions; got != 1 {
		t.Fatalf("expected 1 active subscription, got %d", got)
	}
	sub.Unsubscribe()
}
