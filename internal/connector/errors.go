package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/retrouci/internal/target"
)

// Kind classifies Connector errors.
type Kind int

const (
	KindProtocolRejection Kind = iota + 1
	KindCapabilityRejection
	KindEmulatorUnresponsive
	KindTargetFault
	KindCriticalFailure
)

func (k Kind) String() string {
	switch k {
	case KindProtocolRejection:
		return "protocol_rejection"
	case KindCapabilityRejection:
		return "capability_rejection"
	case KindEmulatorUnresponsive:
		return "emulator_unresponsive"
	case KindTargetFault:
		return "target_fault"
	case KindCriticalFailure:
		return "critical_failure"
	default:
		return "unknown"
	}
}

// Error carries the kind, the command that triggered it and, for faults, the last thing
// the target showed.
type Error struct {
	Kind        Kind
	Command     string
	Message     string
	Cause       error
	Observation *target.Observation
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Command != "" {
		msg += " (" + e.Command + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the session stays in its current state.
func (e *Error) Recoverable() bool {
	return e.Kind == KindProtocolRejection || e.Kind == KindCapabilityRejection
}

// KindOf extracts the kind of a Connector error.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

var errUnrecognisedBoard = errors.New("observed board does not follow from any legal move")

func protocolRejection(cmd, format string, args ...any) *Error {
	return &Error{Kind: KindProtocolRejection, Command: cmd, Message: fmt.Sprintf(format, args...)}
}

func capabilityRejection(cmd, format string, args ...any) *Error {
	return &Error{Kind: KindCapabilityRejection, Command: cmd, Message: fmt.Sprintf(format, args...)}
}

// faultFrom maps a failed target operation to Unresponsive (ceiling hit) or TargetFault.
func faultFrom(cmd string, err error, obs *target.Observation) *Error {
	var ce *Error
	if errors.As(err, &ce) && !ce.Recoverable() {
		return ce
	}
	kind := KindTargetFault
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindEmulatorUnresponsive
	}
	return &Error{Kind: kind, Command: cmd, Cause: err, Observation: obs}
}
