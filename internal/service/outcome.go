package service

import (
	"errors"
	"net/http"

	"github.com/atinyakov/credvault/internal/crypto"
	"github.com/atinyakov/credvault/internal/policy"
	"github.com/atinyakov/credvault/internal/repository"
)

var (
	// ErrNotFound is returned when the targeted record does not exist.
	ErrNotFound = repository.ErrNotFound
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = policy.ErrForbidden
	// ErrRateLimited is returned when the caller exhausted its attempts.
	ErrRateLimited = policy.ErrRateLimited
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned for unknown users and wrong passwords.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrConflict is returned when a username or email is already taken.
	ErrConflict = errors.New("user with that email or username already exists")
)

// ValidationError describes rejected input. It matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Outcome tags the result of a service call for the transport layer.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeForbidden
	OutcomeRateLimited
	OutcomeValidationError
	OutcomeCryptoFailure
	OutcomeUnauthorized
	OutcomeConflict
	OutcomeInternal
)

var outcomeNames = [...]string{
	OutcomeSuccess:         "success",
	OutcomeNotFound:        "not_found",
	OutcomeForbidden:       "forbidden",
	OutcomeRateLimited:     "rate_limited",
	OutcomeValidationError: "validation_error",
	OutcomeCryptoFailure:   "crypto_failure",
	OutcomeUnauthorized:    "unauthorized",
	OutcomeConflict:        "conflict",
	OutcomeInternal:        "internal",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// OutcomeOf classifies err. A nil error is a success; anything unrecognised
// is internal.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, ErrValidation):
		return OutcomeValidationError
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, crypto.ErrDecryption),
		errors.Is(err, crypto.ErrEncryption),
		errors.Is(err, crypto.ErrConfiguration):
		return OutcomeCryptoFailure
	default:
		return OutcomeInternal
	}
}

// Status returns the HTTP status for o. Success maps to 200; handlers that
// create resources use 201 themselves.
func (o Outcome) Status() int {
	switch o {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeNotFound:
		return http.StatusNotFound
	case OutcomeForbidden:
		return http.StatusForbidden
	case OutcomeRateLimited:
		return http.StatusTooManyRequests
	case OutcomeValidationError:
		return http.StatusBadRequest
	case OutcomeUnauthorized:
		return http.StatusUnauthorized
	case OutcomeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
