// Package topic implements the token-array topic model and the two trie
// variants (pattern-store and literal-store) used by the dispatch engine.
package topic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chenxilol/fiberbus/internal/errs"
)

// Literal wraps a raw token value so it is always matched concretely, even
// when its Value equals one of the bus's configured wildcard symbols.
type Literal struct {
	Value any
}

// Token is any of string, int, or Literal. The trie treats string and int
// tokens by equality; Literal tokens unwrap to their Value for equality but
// are never treated as a wildcard symbol even when Value matches one.
type Token = any

// Topic is a dense, ordered sequence of tokens.
type Topic []Token

// Wildcards names the two configurable wildcard symbols for a bus.
type Wildcards struct {
	Single string // matches exactly one token position, default "+"
	Multi  string // matches zero or more trailing positions, default "#"
}

// DefaultWildcards returns the spec's default symbols.
func DefaultWildcards() Wildcards {
	return Wildcards{Single: "+", Multi: "#"}
}

// isWildcardSymbol reports whether tok is a bare (non-Literal) string equal
// to one of the configured wildcard symbols.
func (w Wildcards) isWildcardSymbol(tok Token) (sym string, ok bool) {
	s, isStr := tok.(string)
	if !isStr {
		return "", false
	}
	switch s {
	case w.Single:
		return w.Single, true
	case w.Multi:
		return w.Multi, true
	}
	return "", false
}

// Validate checks a pattern for structural validity: every token must be a
// string, int, or Literal, and a Multi wildcard (if present and not inside
// a Literal) must be the last token.
func (w Wildcards) Validate(pattern Topic) error {
	for i, tok := range pattern {
		switch tok.(type) {
		case string, int, Literal:
		default:
			return errs.Wrap(errs.InvalidTopic, fmt.Errorf("token %d has unsupported type %T", i, tok))
		}
		if sym, ok := w.isWildcardSymbol(tok); ok && sym == w.Multi && i != len(pattern)-1 {
			return errs.Wrap(errs.InvalidTopic, fmt.Errorf("multi-level wildcard %q must be the last token (found at %d of %d)", w.Multi, i, len(pattern)-1))
		}
	}
	return nil
}

// IsConcrete reports whether topic contains no (unwrapped) wildcard
// symbols — i.e. it is suitable as an endpoint or retained-store key.
func (w Wildcards) IsConcrete(t Topic) bool {
	for _, tok := range t {
		if _, ok := w.isWildcardSymbol(tok); ok {
			return false
		}
	}
	return true
}

// unwrap returns the raw comparison value for a token: Literal values
// unwrap to their inner Value, everything else passes through.
func unwrap(tok Token) any {
	if l, ok := tok.(Literal); ok {
		return l.Value
	}
	return tok
}

// tokenKey returns a type-distinguishing map key for a token so that the
// string "1" and the int 1 never collide as trie-node children.
func tokenKey(tok Token) string {
	v := unwrap(tok)
	switch x := v.(type) {
	case string:
		return "s:" + x
	case int:
		return "i:" + strconv.Itoa(x)
	default:
		return fmt.Sprintf("?:%v", x)
	}
}

// CanonicalKey returns a stable, equality-respecting encoding of a concrete
// topic, suitable for endpoint-index lookups. It is a length-prefixed
// concatenation of a type tag and the token's textual form per position,
// per the canonical-key design note in spec.md §9.
func CanonicalKey(t Topic) (string, error) {
	var b strings.Builder
	for _, tok := range t {
		v := unwrap(tok)
		switch x := v.(type) {
		case string:
			fmt.Fprintf(&b, "s%d:%s|", len(x), x)
		case int:
			s := strconv.Itoa(x)
			fmt.Fprintf(&b, "i%d:%s|", len(s), s)
		default:
			return "", errs.Wrap(errs.InvalidTopic, fmt.Errorf("token of unsupported type %T", v))
		}
	}
	return b.String(), nil
}
