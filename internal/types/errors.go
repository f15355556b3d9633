package types

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can map it to an exit code
// and a remediation.
type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindIntegrity          Kind = "integrity"
	KindGate               Kind = "gate"
	KindToolingUnavailable Kind = "tooling_unavailable"
	KindTransport          Kind = "transport"
	KindLock               Kind = "lock"
	KindPersistence        Kind = "persistence"
)

// Sentinel errors shared across packages. Using sentinels allows callers to
// match with errors.Is for reliable error handling.
var (
	// ErrNoActivePhase is returned when an operation needs a current phase.
	ErrNoActivePhase = errors.New("no phase is active")

	// ErrPhaseNotCurrent is returned when an evaluation names a phase other
	// than the one recorded in the phase pointer.
	ErrPhaseNotCurrent = errors.New("phase is not the current phase")

	// ErrUnknownPhase is returned when a phase id is absent from the roadmap.
	ErrUnknownPhase = errors.New("phase not found in roadmap")

	// ErrNotApproved is returned when advancing without a Pass verdict.
	ErrNotApproved = errors.New("phase has no approval")

	// ErrLockTimeout is returned when the evaluation lock cannot be acquired
	// within the configured bound.
	ErrLockTimeout = errors.New("timed out waiting for evaluation lock: another evaluation may be in progress")
)

// Error is a classified engine error. Hint carries the operator-facing next step.
type Error struct {
	Kind Kind
	Msg  string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Hint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Hint)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithHint returns a copy of e carrying the remediation hint.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// KindOf reports the kind of the first classified error in err's chain.
// Unclassified errors are reported as persistence errors, matching how the
// engine treats unexpected I/O failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrLockTimeout) {
		return KindLock
	}
	return KindPersistence
}
