package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures returned by the mutation layer.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindValidation         ErrorKind = "validation"
	KindCycle              ErrorKind = "cycle"
	KindTransitionRejected ErrorKind = "transition_rejected"
	KindHardGate           ErrorKind = "hard_gate"
	KindConflict           ErrorKind = "conflict"
)

// Conflict reasons distinguishing the two ways a claim can lose.
const (
	ReasonAlreadyClaimed = "already_claimed"
	ReasonNotClaimable   = "not_claimable"
	ReasonNotHolder      = "not_holder"
)

// Error is the tagged error carried across package boundaries. Callers branch
// on Kind (and Reason for conflicts) instead of matching messages.
type Error struct {
	Kind          ErrorKind
	Reason        string
	Message       string
	MissingFields []string
	Path          []string
	Err           error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if len(e.MissingFields) > 0 {
		msg = fmt.Sprintf("%s (missing: %s)", msg, strings.Join(e.MissingFields, ", "))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, and by reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCycle              = &Error{Kind: KindCycle}
	ErrTransitionRejected = &Error{Kind: KindTransitionRejected}
	ErrHardGate           = &Error{Kind: KindHardGate}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrAlreadyClaimed     = &Error{Kind: KindConflict, Reason: ReasonAlreadyClaimed}
	ErrNotClaimable       = &Error{Kind: KindConflict, Reason: ReasonNotClaimable}
	ErrNotHolder          = &Error{Kind: KindConflict, Reason: ReasonNotHolder}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func TransitionRejected(format string, args ...any) *Error {
	return &Error{Kind: KindTransitionRejected, Message: fmt.Sprintf(format, args...)}
}

func Conflict(reason, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// HardGate reports a hard-enforced transition blocked by unpopulated fields.
func HardGate(from, to string, missing []string) *Error {
	return &Error{
		Kind:          KindHardGate,
		Message:       fmt.Sprintf("transition %s -> %s requires fields", from, to),
		MissingFields: append([]string(nil), missing...),
	}
}

// Cycle reports a dependency that would close the given path.
func Cycle(from, to string, path []string) *Error {
	return &Error{
		Kind:    KindCycle,
		Message: fmt.Sprintf("dependency %s -> %s would create a cycle", from, to),
		Path:    append([]string(nil), path...),
	}
}

// KindOf returns the kind of a tagged error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// MissingFieldsOf extracts the missing field list from a hard gate error.
func MissingFieldsOf(err error) []string {
	var de *Error
	if errors.As(err, &de) {
		return de.MissingFields
	}
	return nil
}
