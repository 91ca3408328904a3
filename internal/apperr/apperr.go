// Package apperr defines the domain error taxonomy shared by the forum
// services. Anything that is not an *Error is an internal failure.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindUnauthorized
	KindForbidden
	KindConflict
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Reason narrows a Kind for callers that need to tell conflicts apart.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonAlreadyVoted       Reason = "already_voted"
	ReasonOppositeVoteExists Reason = "opposite_vote_exists"
	ReasonNoVote             Reason = "no_vote"
	ReasonWrongDirection     Reason = "wrong_direction"
	ReasonExpired            Reason = "expired"
	ReasonMinimumOptions     Reason = "minimum_options"
	ReasonDuplicate          Reason = "duplicate"
)

type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	if e.Reason != ReasonNone {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches another *Error with the same Kind and Reason, so sentinel
// comparisons like errors.Is(err, apperr.Conflict(apperr.ReasonExpired, "")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

func New(kind Kind, reason Reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: msg}
}

func NotFound(msg string) *Error { return New(KindNotFound, ReasonNone, msg) }

func NotFoundReason(reason Reason, msg string) *Error { return New(KindNotFound, reason, msg) }

func Unauthorized(msg string) *Error { return New(KindUnauthorized, ReasonNone, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, ReasonNone, msg) }

func Conflict(reason Reason, msg string) *Error { return New(KindConflict, reason, msg) }

func InvalidInput(msg string) *Error { return New(KindInvalidInput, ReasonNone, msg) }

// As returns the domain error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// HasReason reports whether err carries a domain error with the given reason.
func HasReason(err error, reason Reason) bool {
	e, ok := As(err)
	return ok && e.Reason == reason
}
