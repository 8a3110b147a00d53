package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by services and repositories.
var (
	ErrNotFound          = errors.New("not found")
	ErrOverrideRequired  = errors.New("automatic suppression entries require an explicit override to remove")
	ErrUnknownActionType = errors.New("unknown action type")
	ErrLeaseNotAcquired  = errors.New("action lease held by another worker")
	ErrRateLimited       = errors.New("send rate limit exceeded")
)

// ValidationError is a malformed event or command. It is rejected
// synchronously and never retried.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientStoreError wraps a store failure that is worth retrying.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientStoreError) Unwrap() error { return e.Err }

// StoreError wraps err as a TransientStoreError unless it is nil or already
// a known domain error.
func StoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientStoreError.
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// DeliveryFailure is returned by delivery collaborators on a failed send.
type DeliveryFailure struct {
	Provider string
	Err      error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Provider, e.Err)
}
func (e *DeliveryFailure) Unwrap() error { return e.Err }

// RateLimitedError is a send refused by a local quota before the provider
// was called. Wait is how long until the quota window resets.
type RateLimitedError struct {
	Channel string
	Wait    time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s over send quota, retry in %s", e.Channel, e.Wait)
}
func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
