package transport

import (
	"errors"
	"fmt"
)

// FaultClass separates failures the dispatcher may retry from those it
// must not.
type FaultClass int

const (
	// ClassTransient covers timeouts, connection resets, and other
	// failures that a retry against the same device may resolve.
	ClassTransient FaultClass = iota

	// ClassPermanent covers credential rejections and parameters the
	// device refused: retrying cannot help, the operator must act.
	ClassPermanent
)

// Error is a classified transport failure.
type Error struct {
	Class FaultClass
	Err   error
}

func (e *Error) Error() string {
	if e.Class == ClassPermanent {
		return fmt.Sprintf("transport (permanent): %v", e.Err)
	}
	return fmt.Sprintf("transport (transient): %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps an error as a retryable transport failure.
func Transient(err error) error {
	return &Error{Class: ClassTransient, Err: err}
}

// Permanent wraps an error as a non-retryable transport failure.
func Permanent(err error) error {
	return &Error{Class: ClassPermanent, Err: err}
}

// IsPermanent reports whether err is classified as permanent.
// Unclassified errors are not permanent: when in doubt, retry.
func IsPermanent(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Class == ClassPermanent
}
