package domain

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies a failed fetch for callers that choose retry
// behavior (a rate-limit response deserves a longer delay than a timeout).
type FetchErrorKind int

const (
	FetchUpstream        FetchErrorKind = iota // network error or non-2xx
	FetchTimeout                               // upstream call exceeded its bound
	FetchRateLimited                           // upstream returned 429
	FetchMalformed                             // payload missing expected fields
	FetchExhaustedNoData                       // self-imposed refusal and no tier has data
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchUpstream:
		return "UPSTREAM_ERROR"
	case FetchTimeout:
		return "UPSTREAM_TIMEOUT"
	case FetchRateLimited:
		return "RATE_LIMITED"
	case FetchMalformed:
		return "MALFORMED_PAYLOAD"
	case FetchExhaustedNoData:
		return "EXHAUSTED_NO_DATA"
	default:
		return "UNKNOWN"
	}
}

// FetchError is the typed failure surfaced when no fallback tier could mask
// an upstream problem.
type FetchError struct {
	Kind     FetchErrorKind
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Resource, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Resource, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with a classification for resource.
func NewFetchError(kind FetchErrorKind, resource string, err error) *FetchError {
	return &FetchError{Kind: kind, Resource: resource, Err: err}
}

// KindOf extracts the classification from err, defaulting to FetchUpstream
// for unclassified errors.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchUpstream
}

// IsRateLimited reports whether err was classified as an upstream 429.
func IsRateLimited(err error) bool {
	return KindOf(err) == FetchRateLimited
}

// IsExhausted reports whether err means "throttled with no cached data".
func IsExhausted(err error) bool {
	return KindOf(err) == FetchExhaustedNoData
}
