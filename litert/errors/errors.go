// Package errors defines the abstract error kinds used across the litertlm
// runtime (executor, execution manager, session and conversation layers).
// Runtime failures are reported as a *StatusError whose Kind is one of the
// constants below, so callers can branch with errors.Is. Some validation
// and decoding helpers (core.EngineSettings.Validate,
// core.SessionConfig.Validate, litert/media, litert/bundle) return plain
// fmt errors instead.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind enumerates the abstract error categories from the runtime's error
// handling design. These are categories, not specific conditions — many
// different failures map onto the same Kind.
type Kind int

const (
	// KindInvalidArgument signals bad user input: unknown backend string,
	// malformed JSON, tool JSON not an array, control token inside user
	// text, wrong target-text cardinality in scoring, and similar.
	KindInvalidArgument Kind = iota
	// KindFailedPrecondition signals a lifecycle error: session already
	// exists on a single-session executor, decode before prefill, engine
	// destroyed while tasks are pending.
	KindFailedPrecondition
	// KindNotFound signals an unknown engine type, session id or task id.
	KindNotFound
	// KindAlreadyExists signals a duplicate engine-type registration.
	KindAlreadyExists
	// KindUnimplemented signals a modality or feature unsupported by the
	// current executor, e.g. constrained decoding on a non-SentencePiece
	// tokenizer.
	KindUnimplemented
	// KindCancelled signals a task observed its cancel flag, or was
	// cancelled before it started.
	KindCancelled
	// KindDeadlineExceeded signals a wait_* call that timed out.
	KindDeadlineExceeded
	// KindInternal signals a backend failure, template rendering failure,
	// tool-call parse failure, or a prefix-invariant failure during
	// full-history rendering.
	KindInternal
	// KindResourceExhausted signals a caller-imposed resource limit was hit,
	// e.g. the execution manager's admission rate limiter rejecting a
	// QueueTask call to protect the single shared executor from overload.
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindFailedPrecondition:
		return "FailedPrecondition"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindUnimplemented:
		return "Unimplemented"
	case KindCancelled:
		return "Cancelled"
	case KindDeadlineExceeded:
		return "DeadlineExceeded"
	case KindInternal:
		return "Internal"
	case KindResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Unknown"
	}
}

// StatusError is the concrete error type returned by runtime operations.
type StatusError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, errors.InvalidArgument) style checks against the
// package-level sentinel kind markers below.
func (e *StatusError) Is(target error) bool {
	k, ok := target.(kindMarker)
	return ok && e.Kind == k.kind
}

type kindMarker struct{ kind Kind }

func (kindMarker) Error() string { return "" }

// Sentinel markers usable with errors.Is(err, errors.InvalidArgument) etc.
var (
	InvalidArgument    error = kindMarker{KindInvalidArgument}
	FailedPrecondition error = kindMarker{KindFailedPrecondition}
	NotFound           error = kindMarker{KindNotFound}
	AlreadyExists      error = kindMarker{KindAlreadyExists}
	Unimplemented      error = kindMarker{KindUnimplemented}
	Cancelled          error = kindMarker{KindCancelled}
	DeadlineExceeded   error = kindMarker{KindDeadlineExceeded}
	Internal           error = kindMarker{KindInternal}
	ResourceExhausted  error = kindMarker{KindResourceExhausted}
)

// New creates a *StatusError with the given kind and message.
func New(kind Kind, message string) *StatusError {
	return &StatusError{Kind: kind, Message: message}
}

// Wrap creates a *StatusError with the given kind, message and cause.
func Wrap(kind Kind, message string, cause error) *StatusError {
	return &StatusError{Kind: kind, Message: message, Cause: cause}
}

// Invalidf builds a KindInvalidArgument error with a formatted message.
func Invalidf(format string, args ...any) *StatusError {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...))
}

// Internalf builds a KindInternal error with a formatted message.
func Internalf(format string, args ...any) *StatusError {
	return New(KindInternal, fmt.Sprintf(format, args...))
}

// NotFoundf builds a KindNotFound error with a formatted message.
func NotFoundf(format string, args ...any) *StatusError {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// FailedPreconditionf builds a KindFailedPrecondition error with a formatted message.
func FailedPreconditionf(format string, args ...any) *StatusError {
	return New(KindFailedPrecondition, fmt.Sprintf(format, args...))
}

// ResourceExhaustedf builds a KindResourceExhausted error with a formatted message.
func ResourceExhaustedf(format string, args ...any) *StatusError {
	return New(KindResourceExhausted, fmt.Sprintf(format, args...))
}

// FromContext maps a context error (context.Canceled / context.DeadlineExceeded)
// onto the matching StatusError kind. Returns nil if ctx.Err() is nil.
func FromContext(ctx context.Context) error {
	switch ctx.Err() {
	case context.Canceled:
		return New(KindCancelled, "context cancelled")
	case context.DeadlineExceeded:
		return New(KindDeadlineExceeded, "context deadline exceeded")
	default:
		return nil
	}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is a
// *StatusError. Returns (KindInternal, false) otherwise.
func KindOf(err error) (Kind, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindInternal, false
}

// IsCancelled reports whether err represents a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, Cancelled)
}

// IsDeadlineExceeded reports whether err represents a timed-out wait.
func IsDeadlineExceeded(err error) bool {
	return errors.Is(err, DeadlineExceeded)
}

// IsNotFound reports whether err represents a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, NotFound)
}
