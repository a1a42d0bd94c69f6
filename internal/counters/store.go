// Package counters keeps the public tallies shown on the landing page.
package counters

import (
	"context"
	"errors"
)

// Counter names.
const (
	AgentsSaved    = "agents-saved"
	TicketsInLimbo = "tickets-in-limbo"
)

// Fallback values returned when the store cannot be read.
var Fallbacks = map[string]int64{
	AgentsSaved:    42,
	TicketsInLimbo: 126,
}

// ErrUnknownCounter is returned for names outside the fixed set.
var ErrUnknownCounter = errors.New("unknown counter")

// Valid reports whether name is a known counter.
func Valid(name string) bool {
	_, ok := Fallbacks[name]
	return ok
}

// Store is an atomic read/increment key-value backend.
type Store interface {
	// Get returns the value of key; a missing key reads as 0.
	Get(ctx context.Context, key string) (int64, error)
	// IncrBy atomically adds n to key and returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}
