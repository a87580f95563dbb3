package challenge

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRejected is the single failure every peek and verify call reports
	// for an unknown, mismatched, expired or already consumed challenge.
	ErrRejected = errors.New("challenge: rejected")

	ErrMissingField  = errors.New("challenge: missing field")
	ErrInvalidFormat = errors.New("challenge: field has invalid format")

	// Private causes of a rejection. They are only ever logged.
	ErrUnknownChallenge = errors.New("challenge: unknown challenge")
	ErrBadToken         = errors.New("challenge: token is invalid")
	ErrTokenMismatch    = errors.New("challenge: token does not match challenge")
	ErrExpired          = errors.New("challenge: challenge expired")
	ErrConsumed         = errors.New("challenge: challenge already consumed")
)

// PublicRejection is the reason shown to clients for every rejection.
const PublicRejection = "challenge_rejected"

func NewError(verb, publicReason string, privateReason error) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
		StatusCode:    http.StatusForbidden,
	}
}

// Reject wraps a private cause into the uniform rejection.
func Reject(verb string, cause error) *Error {
	return NewError(verb, PublicRejection, fmt.Errorf("%w: %w", ErrRejected, cause))
}

type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}
