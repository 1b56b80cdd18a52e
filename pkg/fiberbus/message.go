// Package fiberbus implements an in-process publish/subscribe message bus
// with wildcard topic matching, last-value retained state, and
// admission-signalled point-to-point delivery for request/reply.
package fiberbus

import "github.com/chenxilol/fiberbus/internal/topic"

// Topic is an ordered sequence of tokens; each token is a string, an int,
// or a Literal wrapping a raw value that must match concretely even if it
// equals a configured wildcard symbol.
type Topic = topic.Topic

// Token is the element type of a Topic.
type Token = topic.Token

// Literal forces a token to match concretely, never as a wildcard symbol.
type Literal = topic.Literal

// Message is the unit of publication: a topic-addressed payload with an
// optional reply address and correlation ID.
type Message struct {
	Topic   Topic
	Payload any
	ReplyTo Topic
	ID      any
}
