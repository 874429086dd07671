package feed

import (
	"context"
	"errors"
	"strings"
)

// FetchErrorKind classifies pull-path failures.
type FetchErrorKind string

const (
	// FetchErrorNetwork indicates transport or connectivity failure.
	FetchErrorNetwork FetchErrorKind = "network"
	// FetchErrorServer indicates the store rejected or failed the request.
	FetchErrorServer FetchErrorKind = "server"
	// FetchErrorDecode indicates the store answered with data that could not be decoded.
	FetchErrorDecode FetchErrorKind = "decode"
)

// FetchError carries structured metadata for one failed pull request.
type FetchError struct {
	// Kind classifies the failure.
	Kind FetchErrorKind
	// Op names the failed operation, for example "query posts".
	Op string
	// Cause is the wrapped store or transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 2)
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if op := strings.TrimSpace(e.Op); op != "" {
		fields = append(fields, "op="+op)
	}

	summary := "fetch error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// NewFetchError wraps cause as a FetchError of the given kind.
//
// An existing FetchError in the chain is returned unchanged so classification
// happens once, closest to the store.
func NewFetchError(kind FetchErrorKind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	if existing, ok := AsFetchError(cause); ok {
		return existing
	}

	return &FetchError{Kind: kind, Op: op, Cause: cause}
}

// AsFetchError extracts one FetchError from wrapped error chains.
func AsFetchError(err error) (*FetchError, bool) {
	if err == nil {
		return nil, false
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr, true
	}

	return nil, false
}

// ClassifyFetchError wraps an unclassified store error.
//
// Context cancellation and deadline errors are network failures; everything
// else defaults to fallback.
func ClassifyFetchError(op string, err error, fallback FetchErrorKind) error {
	if err == nil {
		return nil
	}
	if _, ok := AsFetchError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchErrorNetwork, Op: op, Cause: err}
	}

	return &FetchError{Kind: fallback, Op: op, Cause: err}
}
