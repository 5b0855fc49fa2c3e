// Package policy decides whether a caller may act on a credential and
// enforces per-caller attempt limits.
package policy

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned when a caller exhausted its attempts for the current window.
	ErrRateLimited = errors.New("rate limited")
)

// AuthorizeOwnerAccess allows the call only when callerID equals ownerID.
// There is no role or hierarchy override.
func AuthorizeOwnerAccess(callerID, ownerID string) error {
	if callerID == "" || callerID != ownerID {
		return ErrForbidden
	}
	return nil
}

// RateLimitError reports a rejected attempt and when the caller may retry.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
