package influxstore

import (
	"errors"
	"fmt"
)

// ErrorKind splits write failures into the two classes the pipeline treats
// differently: transient failures are retried and eventually nacked for
// redelivery, permanent failures quarantine the offending points.
type ErrorKind int

const (
	// KindTransient covers network failures and service unavailability; a
	// retry may succeed.
	KindTransient ErrorKind = iota
	// KindPermanent covers storage-side rejection of the data itself; no
	// retry will ever succeed.
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// WriteError wraps a sink failure with its classification.
type WriteError struct {
	Kind ErrorKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write error: %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Transient wraps err as a retriable write error.
func Transient(err error) error {
	return &WriteError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retriable write error.
func Permanent(err error) error {
	return &WriteError{Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err is a transient write error. Unclassified
// errors count as transient: retrying an unknown failure is safe under
// at-least-once delivery, dropping data is not.
func IsTransient(err error) bool {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Kind == KindTransient
	}
	return true
}

// IsPermanent reports whether err is a permanent write error.
func IsPermanent(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Kind == KindPermanent
}
