package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPerformAlways(t *testing.T) {
	v, err := Perform(context.Background(), Always(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestNewPrimitiveTryPath(t *testing.T) {
	op := NewPrimitive(
		func() (int, bool) { return 7, true },
		func(ctx context.Context) (int, error) { t.Fatal("block should not run when try succeeds"); return 0, nil },
	)
	v, err := Perform(context.Background(), op)
	if err != nil || v != 7 {
		t.Fatalf("expected (7, nil), got (%d, %v)", v, err)
	}
}

func TestNewPrimitiveBlockPath(t *testing.T) {
	op := NewPrimitive(
		func() (int, bool) { return 0, false },
		func(ctx context.Context) (int, error) { return 9, nil },
	)
	v, err := Perform(context.Background(), op)
	if err != nil || v != 9 {
		t.Fatalf("expected (9, nil), got (%d, %v)", v, err)
	}
}

func TestChoiceReturnsFastestOp(t *testing.T) {
	slow := func(ctx context.Context) (string, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "slow", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	fast := func(ctx context.Context) (string, error) {
		return "fast", nil
	}

	v, err := Choice(context.Background(), slow, fast)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "fast" {
		t.Fatalf("expected the fast op to win, got %q", v)
	}
}

func TestNamedChoiceReportsWinnerLabel(t *testing.T) {
	name, v, err := NamedChoice(context.Background(),
		NamedOp[int]{Name: "a", Op: func(ctx context.Context) (int, error) { return 1, nil }},
	)
	if err != nil || name != "a" || v != 1 {
		t.Fatalf("expected (\"a\", 1, nil), got (%q, %d, %v)", name, v, err)
	}
}

func TestBracketRunsReleaseOnSuccess(t *testing.T) {
	released := false
	v, err := Bracket(context.Background(),
		func(ctx context.Context) (int, error) { return 5, nil },
		func(int) { released = true },
		func(ctx context.Context, r int) (int, error) { return r * 2, nil },
	)
	if err != nil || v != 10 {
		t.Fatalf("expected (10, nil), got (%d, %v)", v, err)
	}
	if !released {
		t.Fatal("expected release to run after a successful use")
	}
}

func TestBracketRunsReleaseOnUseError(t *testing.T) {
	released := false
	wantErr := errors.New("boom")
	_, err := Bracket(context.Background(),
		func(ctx context.Context) (int, error) { return 5, nil },
		func(int) { released = true },
		func(ctx context.Context, r int) (int, error) { return 0, wantErr },
	)
	if err != wantErr {
		t.Fatalf("expected the use error to propagate, got %v", err)
	}
	if !released {
		t.Fatal("expected release to run even when use fails")
	}
}

func TestBracketSkipsReleaseOnAcquireFailure(t *testing.T) {
	released := false
	wantErr := errors.New("acquire failed")
	_, err := Bracket(context.Background(),
		func(ctx context.Context) (int, error) { return 0, wantErr },
		func(int) { released = true },
		func(ctx context.Context, r int) (int, error) { return r, nil },
	)
	if err != wantErr {
		t.Fatalf("expected the acquire error to propagate, got %v", err)
	}
	if released {
		t.Fatal("release must not run when acquire never succeeded")
	}
}

func TestScopeDeferRunsLIFOOnClose(t *testing.T) {
	var order []int
	s := NewScope(context.Background())
	s.Defer(func() { order = append(order, 1) })
	s.Defer(func() { order = append(order, 2) })
	s.Close()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected LIFO cleanup order [2 1], got %v", order)
	}
}

func TestScopeDeferAfterCloseRunsImmediately(t *testing.T) {
	s := NewScope(context.Background())
	s.Close()

	ran := false
	s.Defer(func() { ran = true })
	if !ran {
		t.Fatal("expected a cleanup deferred after Close to run immediately")
	}
}
