// Package pricing resolves a live reference quote from an ordered list of
// independent, unreliable quote sources.
//
// Sources are tried strictly in order. The first value inside the sanity
// bound wins; errors and out-of-bound values are recorded and skipped.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Sanity bounds for a reference quote in USD (exclusive on both ends).
const (
	MinValidQuote = 0
	MaxValidQuote = 100000
)

// DefaultSourceTimeout bounds a single source call.
const DefaultSourceTimeout = 5 * time.Second

var (
	// ErrNoValidQuote is returned when every source failed or was out of bounds.
	ErrNoValidQuote = errors.New("no valid quote from any source")

	// ErrOutOfBounds marks a source value outside the sanity bound.
	ErrOutOfBounds = errors.New("quote outside sanity bound")

	// ErrNoSources is returned when a resolver has nothing to try.
	ErrNoSources = errors.New("no quote sources configured")
)

// Quote is a resolved reference price.
type Quote struct {
	Value      float64   `json:"price"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"timestamp"`
}

// IsValid reports whether v passes the sanity bound.
func IsValid(v float64) bool {
	return !math.IsNaN(v) && v > MinValidQuote && v < MaxValidQuote
}

// SourceError records why one source did not produce the quote.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

// Failure is returned when resolution is exhausted. It matches ErrNoValidQuote.
type Failure struct {
	Attempts []SourceError
}

func (f *Failure) Error() string {
	if len(f.Attempts) == 0 {
		return ErrNoValidQuote.Error()
	}
	parts := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("%s (%s)", ErrNoValidQuote, strings.Join(parts, "; "))
}

// Unwrap makes errors.Is(err, ErrNoValidQuote) hold.
func (f *Failure) Unwrap() error {
	return ErrNoValidQuote
}
