package tegerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNewAndError tests message formatting for plain and empty-message errors.
func TestNewAndError(t *testing.T) {
	err := New(KindTableNotFound, "no such table: widgets")
	assert.Equal(t, "TableNotFound: no such table: widgets", err.Error())

	bare := New(KindOther, "")
	assert.Equal(t, "Other", bare.Error())
}

// TestConstraint tests the ConstraintViolation sub-kind formatting.
func TestConstraint(t *testing.T) {
	err := Constraint(ConstraintUnique, "duplicate value for column email")
	assert.Equal(t, "ConstraintViolation{Unique}: duplicate value for column email", err.Error())
	assert.Equal(t, KindConstraintViolation, err.Kind)
}

// TestWrapUnwrap tests that Wrap preserves the cause for errors.Unwrap/Is.
func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, "append log entry", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, cause)
}

// TestIs tests Kind-based branching, including through fmt.Errorf %w chains.
func TestIs(t *testing.T) {
	err := New(KindKeyTooLarge, "key too big")
	assert.True(t, Is(err, KindKeyTooLarge))
	assert.False(t, Is(err, KindValueTooLarge))

	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, Is(wrapped, KindKeyTooLarge))

	assert.False(t, Is(errors.New("plain"), KindOther))
	assert.False(t, Is(nil, KindOther))
}
