package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidProvider indicates an unknown AI provider was specified
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrServiceUnavailable indicates the AI service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrStoreUnavailable indicates a connection or configuration failure in an index or relational store
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreTimeout indicates a store call exceeded its deadline
	ErrStoreTimeout = errors.New("store timeout")

	// ErrEnrichmentMiss indicates an index entry has no matching relational row
	ErrEnrichmentMiss = errors.New("enrichment miss")

	// ErrRerankerUnavailable indicates the relevance model could not be used
	ErrRerankerUnavailable = errors.New("reranker unavailable")

	// ErrSyncBatchFailure indicates one reindex batch failed
	ErrSyncBatchFailure = errors.New("sync batch failure")

	// ErrLockNotAcquired indicates another process holds the reindex lock
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// StoreError wraps a failure from a named store operation.
// Err is always one of ErrStoreUnavailable or ErrStoreTimeout joined with the cause.
type StoreError struct {
	Store string // "vector", "keyword", "relational"
	Op    string
	Kind  error
	Err   error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Store, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Store, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is.
func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ClassifyStoreError wraps err as a StoreError. Deadline and network timeouts
// become ErrStoreTimeout, everything else ErrStoreUnavailable. A nil err stays nil
// and an existing StoreError is returned unchanged.
func ClassifyStoreError(store, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind := ErrStoreUnavailable
	if IsTimeout(err) {
		kind = ErrStoreTimeout
	}
	return &StoreError{Store: store, Op: op, Kind: kind, Err: err}
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStoreTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
