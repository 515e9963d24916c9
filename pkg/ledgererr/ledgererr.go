// Package ledgererr defines the error kinds shared by the
// cipherledger components. Every error returned across a
// package boundary wraps exactly one of these sentinels, so
// callers can dispatch with errors.Is.
package ledgererr

import "errors"

var (
	ErrValueOutOfRange      = errors.New("cipherledger: value out of range")
	ErrMalformedCiphertext  = errors.New("cipherledger: malformed ciphertext")
	ErrUnsupportedOperation = errors.New("cipherledger: unsupported operation")
	ErrAuthorizationDenied  = errors.New("cipherledger: authorization denied")
	ErrNotAuthorized        = errors.New("cipherledger: caller not authorized")
	ErrAlreadyClassified    = errors.New("cipherledger: transaction already classified")
	ErrInvalidTransition    = errors.New("cipherledger: invalid status transition")
	ErrStore                = errors.New("cipherledger: store error")
	ErrNotFound             = errors.New("cipherledger: transaction not found")
	ErrInvalidInput         = errors.New("cipherledger: invalid input")
)

// Retryable reports whether the operation that produced err
// may be retried as-is. Authorization rejections and store
// failures are transient; a stale lifecycle view is not.
func Retryable(err error) bool { // A
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyClassified):
		return false
	case errors.Is(err, ErrAuthorizationDenied),
		errors.Is(err, ErrStore):
		return true
	default:
		return false
	}
}

// Kind returns the sentinel wrapped by err, or nil when err
// does not carry one of the ledger kinds.
func Kind(err error) error { // A
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

var kinds = []error{
	ErrValueOutOfRange,
	ErrMalformedCiphertext,
	ErrUnsupportedOperation,
	ErrAuthorizationDenied,
	ErrNotAuthorized,
	ErrAlreadyClassified,
	ErrInvalidTransition,
	ErrNotFound,
	ErrInvalidInput,
	ErrStore,
}
