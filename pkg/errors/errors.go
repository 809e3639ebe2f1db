// Package errors provides the structured error taxonomy for cachepulse:
// adapter-boundary failures, aggregate fan-out failures, and resource
// sampling failures.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// AdapterErrorKind classifies a remote backend failure. Every
// backend-specific error crossing the adapter boundary is translated to
// one of these kinds and never propagated as a panic.
type AdapterErrorKind string

const (
	KindTimeout       AdapterErrorKind = "timeout"
	KindUnavailable   AdapterErrorKind = "unavailable"
	KindSerialization AdapterErrorKind = "serialization"
	KindOther         AdapterErrorKind = "other"
)

// AdapterError is the uniform error type returned by remote cache
// adapters. Backend and Op identify where it happened; Err carries the
// underlying cause for logging and unwrapping.
type AdapterError struct {
	Kind    AdapterErrorKind
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Backend, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Backend, e.Op, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Is matches two adapter errors by kind, for errors.Is comparisons
// against kind sentinels.
func (e *AdapterError) Is(target error) bool {
	if other, ok := target.(*AdapterError); ok {
		return e.Kind == other.Kind
	}
	return false
}

// NewAdapterError builds an AdapterError with an explicit kind.
func NewAdapterError(kind AdapterErrorKind, backend, op string, err error) *AdapterError {
	return &AdapterError{Kind: kind, Backend: backend, Op: op, Err: err}
}

// Classify translates an arbitrary backend error into an AdapterError,
// mapping context deadlines and network timeouts to KindTimeout and
// connection-level failures to KindUnavailable. Serialization failures
// are the adapter's own concern and are tagged at the call site.
func Classify(backend, op string, err error) *AdapterError {
	kind := KindOther

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case isConnectionError(err):
		kind = KindUnavailable
	}

	return &AdapterError{Kind: kind, Backend: backend, Op: op, Err: err}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "no such host", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is an adapter timeout.
func IsTimeout(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == KindTimeout
}

// IsUnavailable reports whether err is an adapter availability failure.
func IsUnavailable(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == KindUnavailable
}

// PartialFailureError reports an aggregate set/delete/clear where at
// least one tier failed. The operation still completed on all other
// tiers; the caller decides whether partial success is acceptable.
type PartialFailureError struct {
	Op          string
	FailedTiers []int
	Causes      map[int]error
}

// NewPartialFailure builds a PartialFailureError from the per-tier
// failure map. Returns nil when no tier failed.
func NewPartialFailure(op string, causes map[int]error) *PartialFailureError {
	if len(causes) == 0 {
		return nil
	}
	failed := make([]int, 0, len(causes))
	for tier := range causes {
		failed = append(failed, tier)
	}
	sort.Ints(failed)
	return &PartialFailureError{Op: op, FailedTiers: failed, Causes: causes}
}

// Error implements the error interface.
func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.FailedTiers))
	for _, tier := range e.FailedTiers {
		parts = append(parts, fmt.Sprintf("tier_%d: %v", tier, e.Causes[tier]))
	}
	return fmt.Sprintf("%s partially failed on %d tier(s): %s", e.Op, len(e.FailedTiers), strings.Join(parts, "; "))
}

// ResourceSampleError reports a single host metric that could not be
// read during a sample. Sampling continues with that metric omitted.
type ResourceSampleError struct {
	Metric string
	Err    error
}

// Error implements the error interface.
func (e *ResourceSampleError) Error() string {
	return fmt.Sprintf("resource sample %s: %v", e.Metric, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ResourceSampleError) Unwrap() error {
	return e.Err
}
