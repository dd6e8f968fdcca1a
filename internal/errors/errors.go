package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeSimulation  Code = 20
	CodePolicy      Code = 21
	CodeSigner      Code = 22
	CodeBroadcast   Code = 23
	CodePending     Code = 24
	CodeDeclined    Code = 25
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope error type rendered for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeUnavailable:
		return "upstream_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeSimulation:
		return "simulation_error"
	case CodePolicy:
		return "policy_blocked"
	case CodeSigner:
		return "signer_error"
	case CodeBroadcast:
		return "broadcast_error"
	case CodePending:
		return "pending_approval"
	case CodeDeclined:
		return "declined"
	default:
		return "internal_error"
	}
}
