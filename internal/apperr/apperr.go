// Package apperr defines the closed set of failure kinds the aggregation
// pipeline distinguishes. Callers branch on the kind, never on error text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUpstreamUnavailable covers connector HTTP failures, timeouts and
	// rate-limit responses. The affected team is skipped for the cycle.
	KindUpstreamUnavailable Kind = iota + 1
	// KindAttributionAmbiguous marks duplicate active UTM mappings. Logged,
	// first-inserted row wins, never fatal.
	KindAttributionAmbiguous
	// KindPersistence covers cache upsert failures. Retried on the next
	// scheduled cycle, not within the same one.
	KindPersistence
	// KindConfigMissing means a required token or table is unreachable.
	// Surfaced as a degraded flag on the status endpoint.
	KindConfigMissing
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindAttributionAmbiguous:
		return "attribution_ambiguous"
	case KindPersistence:
		return "persistence_error"
	case KindConfigMissing:
		return "config_missing"
	}
	return "unknown"
}

// Error carries a kind, the failing operation and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
