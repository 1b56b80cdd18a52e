package fiberbus

import "github.com/chenxilol/fiberbus/internal/errs"

// Error kinds returned by bus operations. See spec.md §7.
const (
	KindDisconnected  = errs.Disconnected
	KindUnsubscribed  = errs.Unsubscribed
	KindUnbound       = errs.Unbound
	KindClosed        = errs.Closed
	KindFull          = errs.Full
	KindNoRoute       = errs.NoRoute
	KindTimeout       = errs.Timeout
	KindCancelled     = errs.Cancelled
	KindInvalidTopic  = errs.InvalidTopic
	KindInvalidPolicy = errs.InvalidPolicy
	KindAlreadyBound  = errs.AlreadyBound
)

// Kind identifies the category of a bus error.
type Kind = errs.Kind

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return errs.Is(err, kind)
}
