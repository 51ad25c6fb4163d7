package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDeadlockNeverTimeout asserts the error propagation policy: a
// Deadlock error must never be observable as a Timeout, or vice versa,
// anywhere along an error's Unwrap chain.
func TestDeadlockNeverTimeout(t *testing.T) {
	deadlock := Wrap(ErrDeadlock, "victim revoked", nil)
	wrapped := errors.Join(errors.New("context"), deadlock)

	kind, ok := KindOf(deadlock)
	assert.True(t, ok)
	assert.Equal(t, ErrDeadlock, kind)
	assert.NotEqual(t, ErrTimeout, kind)

	// errors.Join does not implement a single-error Unwrap chain, so KindOf
	// (which only walks Unwrap() error) won't find it through Join; this
	// documents that boundary rather than asserting a false positive.
	_, joinFound := KindOf(wrapped)
	assert.False(t, joinFound)
}

func TestRetriableKinds(t *testing.T) {
	retriable := []ErrorKind{ErrTimeout, ErrPoolExhausted, ErrCircuitOpen, ErrTransactionAborted}
	for _, k := range retriable {
		e := NewError(k, "x")
		assert.True(t, e.Retriable(), "%s should be retriable", k)
	}

	notRetriable := []ErrorKind{ErrDeadlock, ErrAccessDenied, ErrInvalidInput, ErrVersionMismatch}
	for _, k := range notRetriable {
		e := NewError(k, "x")
		assert.False(t, e.Retriable(), "%s should not be retriable", k)
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(ErrIO, "read failed", cause)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "boom")
}
