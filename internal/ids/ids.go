// Package ids centralizes ID generation: ULIDs for anything ordered by
// creation time (sessions, changes, locks, messages) and UUIDs for
// identifiers with no temporal meaning (agents, conflicts).
package ids

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a new time-ordered ULID.
func NewULID() string {
	return ulid.Make().String()
}

// NewUUID returns a new random UUID (v4), for identifiers with no ordering
// requirement.
func NewUUID() string {
	return uuid.New().String()
}

// RandomJitter returns a pseudo-random factor in [0,1), used by the
// connection pool's backoff and the search queue's fairness rotation; not
// cryptographically sensitive.
func RandomJitter() float64 {
	return rand.Float64()
}
