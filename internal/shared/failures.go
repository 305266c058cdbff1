package shared

import (
	"errors"
	"fmt"
)

// ValidationError rejects an upload before any artifact is created.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Code is the API error code for the rejected field.
func (e *ValidationError) Code() string {
	if e.Field == "" {
		return "invalid_image"
	}
	return "invalid_" + e.Field
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StorageError is a local I/O failure of the artifact store.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type ProviderErrorKind string

const (
	ProviderTransient ProviderErrorKind = "transient"
	ProviderPermanent ProviderErrorKind = "permanent"
)

// ProviderError is a failed call to a remote vision or speech model.
// Transient errors are retry-eligible, permanent ones are not.
type ProviderError struct {
	Provider   string
	Op         string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func NewTransient(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: ProviderTransient, Err: err}
}

func NewPermanent(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: ProviderPermanent, Err: err}
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s (%s)", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Transient() bool {
	return e.Kind == ProviderTransient
}

// IsTransient reports whether err carries a transient ProviderError.
func IsTransient(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.Transient()
}
