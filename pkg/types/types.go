// Package types defines the failure taxonomy shared by every voicelink package.
//
// Each failure that can occur in the audio pipelines, the session state machine
// or the controller belongs to exactly one [Kind]. The kind alone decides
// whether the failure is returned to the caller, reported through a callback,
// recorded in session state, or dropped. Dropping only ever happens through
// [Swallow], so the set of ignored failures can be audited in one place.
package types

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies a failure by how it must be handled.
type Kind int

const (
	// UsageError signals programmer misuse: a precondition such as "connected"
	// or "initialised" does not hold. Always returned synchronously, never retried.
	UsageError Kind = iota

	// DeviceError covers microphone permission denial and unavailable audio
	// hardware. Reported through the owning pipeline's callback; the pipeline
	// returns to idle and does not retry.
	DeviceError

	// TransportError is an error event surfaced by the agent transport. It is
	// recorded in the session state and never forces a disconnect.
	TransportError

	// TransientSendError is a single audio frame that failed to send. Reported,
	// but the capture stream keeps running.
	TransientSendError

	// BestEffortFailure covers keep-alives and teardown steps. Always swallowed.
	BestEffortFailure
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case UsageError:
		return "usage"
	case DeviceError:
		return "device"
	case TransportError:
		return "transport"
	case TransientSendError:
		return "transient-send"
	case BestEffortFailure:
		return "best-effort"
	default:
		return "unknown"
	}
}

// Propagates reports whether failures of this kind are returned to the caller
// as an error value. Every other kind is reported out of band or swallowed.
func (k Kind) Propagates() bool {
	return k == UsageError
}

// Fatal reports whether a failure of this kind ends the operation that
// produced it (a capture start, for instance). Transport errors are
// deliberately non-fatal: only an explicit close event ends a session.
func (k Kind) Fatal() bool {
	return k == DeviceError
}

// Reported reports whether failures of this kind reach an observer, either
// through a pipeline callback or the session's error field.
func (k Kind) Reported() bool {
	return k != BestEffortFailure
}

// Sentinel usage errors.
var (
	// ErrNotConnected is returned by outbound commands issued without an active transport.
	ErrNotConnected = errors.New("not connected")

	// ErrNotInitialized is returned by the controller when Connect is called before Init.
	ErrNotInitialized = errors.New("not initialized: call Init first")

	// ErrNoToken is returned by Connect when no access credential has been set.
	ErrNoToken = errors.New("no token set")

	// ErrNoSettings is returned by Connect when neither a structured config nor
	// raw settings have been provided.
	ErrNoSettings = errors.New("no agent settings provided")
)

// Error attaches a [Kind] and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so that errors.Is matches sentinels.
func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a failure of the given kind raised by op. It returns nil
// when err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Usage is shorthand for New(UsageError, op, err).
func Usage(op string, err error) error {
	return New(UsageError, op, err)
}

// KindOf returns the kind recorded on err, or false if err does not carry one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsUsage reports whether err is a usage error.
func IsUsage(err error) bool {
	k, ok := KindOf(err)
	return ok && k == UsageError
}

// Handle applies the policy of err's kind. Failures that propagate, and
// errors carrying no kind, are returned unchanged. Reported failures are
// passed to report and Handle returns nil. The rest are swallowed.
func Handle(err error, report func(error)) error {
	if err == nil {
		return nil
	}
	kind, ok := KindOf(err)
	switch {
	case !ok || kind.Propagates():
		return err
	case kind.Reported():
		if report != nil {
			report(err)
		}
		return nil
	}
	var op string
	if e, ok := err.(*Error); ok {
		op = e.Op
	}
	Swallow(kind, op, err)
	return nil
}

// Swallow drops err. It is the only sanctioned way to ignore a failure and is
// reserved for kinds that are not reported; any other kind is logged at warn
// level so that a misuse of the policy is visible.
func Swallow(kind Kind, op string, err error) {
	if err == nil {
		return
	}
	if kind.Reported() {
		slog.Warn("types: swallowing a failure that should be reported",
			"kind", kind.String(),
			"op", op,
			"err", err,
		)
		return
	}
	slog.Debug("best-effort operation failed", "op", op, "err", err)
}
