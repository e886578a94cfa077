// Package failure holds the error taxonomy shared by the export pipeline.
// Every error that reaches a job result carries one Kind so the run summary
// can report what went wrong without a stack trace.
package failure

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindParseAnomaly           Kind = "parse_anomaly"
	KindToolTransient          Kind = "tool_transient"
	KindToolPermanent          Kind = "tool_permanent"
	KindReferenceNotFound      Kind = "reference_not_found"
	KindReconciliationTimeout  Kind = "reconciliation_timeout"
	KindReconciliationMismatch Kind = "reconciliation_mismatch"
	KindTimeout                Kind = "timeout"
	KindUnavailable            Kind = "unavailable"
	KindAborted                Kind = "aborted"
)

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err still yields an error so that
// callers can report kinds that have no underlying cause.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first Kind found in err's chain. Context deadline and
// cancellation map to KindTimeout when nothing more specific is attached.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// Retryable reports whether a failure of this kind may succeed when the same
// step is attempted again.
func (k Kind) Retryable() bool {
	switch k {
	case KindToolTransient, KindReferenceNotFound, KindParseAnomaly:
		return true
	default:
		return false
	}
}
