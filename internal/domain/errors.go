package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTransport     = errors.New("store call failed")
	ErrNotFound      = errors.New("order not found")
	ErrValidation    = errors.New("invalid input")
	ErrDataIntegrity = errors.New("store returned malformed data")
	ErrConfig        = errors.New("invalid configuration")
)

// TransportError means the store call could not complete: no response,
// timeout, or a non-2xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Op + ": " + ErrTransport.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Retryable reports whether repeating the same call may succeed.
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= http.StatusInternalServerError
	}
}

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError is returned for caller input rejected before any I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DataIntegrityError reports a row or event from the store that does not
// conform to the order schema. Row is -1 when the payload is not a list.
type DataIntegrityError struct {
	Row   int
	Field string
	Err   error
}

func (e *DataIntegrityError) Error() string {
	msg := ErrDataIntegrity.Error()
	if e.Row >= 0 {
		msg += fmt.Sprintf(": row %d", e.Row)
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfig, e.Key, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }
