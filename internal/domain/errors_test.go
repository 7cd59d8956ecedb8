package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("issue %s not found", "fg-1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestConflictReasons(t *testing.T) {
	err := Conflict(ReasonAlreadyClaimed, "issue %s already claimed by %s", "fg-1", "ann")
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.NotErrorIs(t, err, ErrNotClaimable)
	assert.Equal(t, "issue fg-1 already claimed by ann", err.Error())
}

func TestHardGateCarriesMissingFields(t *testing.T) {
	missing := []string{"fix_verification"}
	err := HardGate("verifying", "closed", missing)
	missing[0] = "mutated"

	assert.ErrorIs(t, err, ErrHardGate)
	assert.Equal(t, []string{"fix_verification"}, MissingFieldsOf(err))
	assert.Equal(t, "transition verifying -> closed requires fields (missing: fix_verification)", err.Error())
	assert.Nil(t, MissingFieldsOf(errors.New("other")))
}

func TestCycleCarriesPath(t *testing.T) {
	err := Cycle("D", "A", []string{"D", "A", "B", "C", "D"})
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindCycle, de.Kind)
	assert.Equal(t, []string{"D", "A", "B", "C", "D"}, de.Path)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &Error{Kind: KindValidation, Message: "bad input", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad input: disk full", err.Error())
	assert.Equal(t, "not_found", (&Error{Kind: KindNotFound}).Error())
}
