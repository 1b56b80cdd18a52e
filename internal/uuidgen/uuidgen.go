// Package uuidgen wraps google/uuid behind the small interface the core
// consumes, per spec.md §6's "UUID: new() returning a fresh unique token
// usable as a topic-array element".
package uuidgen

import "github.com/google/uuid"

// Generator produces fresh, process-unique tokens.
type Generator interface {
	New() string
}

type googleUUID struct{}

// Default returns the production Generator, backed by google/uuid's
// random (v4) generation.
func Default() Generator {
	return googleUUID{}
}

func (googleUUID) New() string {
	return uuid.New().String()
}
