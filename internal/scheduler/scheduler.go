// Package scheduler adapts the cooperative-scheduler substrate spec.md §6
// asks the core to consume (scopes with finalizers, selectable operations,
// choice/bracket combinators) onto Go's goroutine-and-channel model. It
// uses sourcegraph/conc's WaitGroup for scope-bound goroutine lifetime
// tracking, the structured-concurrency role the teacher's transitive
// dependency graph already carries but never exercised directly.
package scheduler

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/chenxilol/fiberbus/internal/errs"
)

// Scope is a lexical resource-ownership region with deterministic
// finalization, standing in for the spec's scheduler scope. Connections
// and the subscriptions/endpoints they own are bound to a Scope; closing it
// cancels its context, runs registered cleanups in LIFO order (mirroring
// Go's own defer semantics) and waits for every tracked goroutine to exit.
// Cancel alone only cancels the context.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	wg conc.WaitGroup

	mu       sync.Mutex
	cleanups []func()
	closed   bool
}

// NewScope derives a child Scope from parent.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context returns the scope's cancellation context.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go spawns a goroutine tracked by the scope; Close blocks until it
// returns.
func (s *Scope) Go(fn func(ctx context.Context)) {
	s.wg.Go(func() { fn(s.ctx) })
}

// Defer registers cleanup to run when the scope closes, LIFO (most
// recently deferred runs first), matching the spec's "finally" hook and
// Go's own defer.
func (s *Scope) Defer(cleanup func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cleanup()
		return
	}
	s.cleanups = append(s.cleanups, cleanup)
}

// Cancel cancels the scope's context without waiting for tracked
// goroutines or running cleanups; callers still must call Close to
// deterministically finalize.
func (s *Scope) Cancel() {
	s.cancel()
}

// Close cancels the scope, runs every deferred cleanup in LIFO order, and
// waits for all tracked goroutines to finish. Idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	s.cancel()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	s.wg.Wait()
}

// Op is a selectable operation: a function from a cancellation context to
// a result or error. It is the Go analogue of the spec's wrap/perform
// operation abstraction.
type Op[T any] func(ctx context.Context) (T, error)

// Perform runs op against ctx and returns its result.
func Perform[T any](ctx context.Context, op Op[T]) (T, error) {
	return op(ctx)
}

// Always resolves immediately to v with no error.
func Always[T any](v T) Op[T] {
	return func(context.Context) (T, error) { return v, nil }
}

// Guard runs a side-effecting check and resolves to its error (or nil).
func Guard(fn func() error) Op[struct{}] {
	return func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	}
}

// NewPrimitive builds an Op from a non-blocking try and a blocking
// fallback: try is attempted first; if it reports ok=false, block runs
// (and may itself be interrupted by ctx). This mirrors the spec's
// `new_primitive(try, block)` and is how Subscription.RecvOp is built atop
// a Mailbox's TryRecv/WaitCh pair.
func NewPrimitive[T any](try func() (T, bool), block func(ctx context.Context) (T, error)) Op[T] {
	return func(ctx context.Context) (T, error) {
		if v, ok := try(); ok {
			return v, nil
		}
		return block(ctx)
	}
}

type choiceResult[T any] struct {
	v   T
	err error
}

// Choice races ops against ctx and resolves to whichever completes first;
// the losing ops' goroutines keep running against a cancelled child
// context but their results are discarded.
func Choice[T any](ctx context.Context, ops ...Op[T]) (T, error) {
	_, v, err := NamedChoice(ctx, namedOpsFromOps(ops)...)
	return v, err
}

func namedOpsFromOps[T any](ops []Op[T]) []NamedOp[T] {
	named := make([]NamedOp[T], len(ops))
	for i, op := range ops {
		named[i] = NamedOp[T]{Name: "", Op: op}
	}
	return named
}

// NamedOp pairs an Op with a label so NamedChoice can report which
// alternative won the race (e.g. "recv" vs "timeout").
type NamedOp[T any] struct {
	Name string
	Op   Op[T]
}

// NamedChoice is Choice with labelled alternatives; it returns the winning
// label alongside the result.
func NamedChoice[T any](ctx context.Context, ops ...NamedOp[T]) (string, T, error) {
	var zero T
	if len(ops) == 0 {
		return "", zero, errs.New(errs.Cancelled)
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type labelled struct {
		name string
		res  choiceResult[T]
	}
	resultCh := make(chan labelled, len(ops))

	for _, no := range ops {
		no := no
		go func() {
			v, err := no.Op(childCtx)
			select {
			case resultCh <- labelled{name: no.Name, res: choiceResult[T]{v: v, err: err}}:
			default:
			}
		}()
	}

	select {
	case r := <-resultCh:
		return r.name, r.res.v, r.res.err
	case <-ctx.Done():
		return "", zero, errs.FromContext(ctx.Err())
	}
}

// Bracket guarantees release runs on every exit path of use — normal
// return, error, or ctx cancellation/panic — mirroring the spec's scoped
// acquisition pattern used by request_once_op and call_op.
func Bracket[R, T any](ctx context.Context, acquire func(ctx context.Context) (R, error), release func(R), use func(ctx context.Context, r R) (T, error)) (T, error) {
	var zero T
	r, err := acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release(r)
	return use(ctx, r)
}
