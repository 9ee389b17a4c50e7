// Package apperr defines the error taxonomy shared by the ingestion core.
package apperr

import (
	"errors"
	"fmt"
)

// ServiceErrorKind classifies failures talking to the hospital directory.
type ServiceErrorKind string

const (
	KindRateLimited       ServiceErrorKind = "rate_limited"
	KindUnavailable       ServiceErrorKind = "unavailable"
	KindMalformedResponse ServiceErrorKind = "malformed_response"
	KindGeneric           ServiceErrorKind = "generic"
)

var (
	ErrRateLimited = errors.New("external service rate limit exceeded")
	ErrUnavailable = errors.New("external service unavailable")
	ErrNotFound    = errors.New("not found")
)

// ValidationError reports malformed input to a trigger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ExternalServiceError wraps a failed directory request.
type ExternalServiceError struct {
	Kind       ServiceErrorKind
	StatusCode int
	Op         string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("external service %s (%s)", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the kind sentinels.
func (e *ExternalServiceError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

// ClassifyStatus maps an HTTP status code to a service error kind.
func ClassifyStatus(status int) ServiceErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	default:
		return KindGeneric
	}
}

// NotFoundError reports a referenced hospital or file that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps a persistence failure with the attempted operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a StorageError, passing nil through.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
