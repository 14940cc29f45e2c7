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
	CodeBlocked     Code = 16

	// Orchestration failures. Every one of them requires the user to start
	// over; nothing in this tree retries them.
	CodeParse               Code = 20
	CodeResolution          Code = 21
	CodePermission          Code = 22
	CodeCancelled           Code = 23
	CodeRegistration        Code = 24
	CodeAlreadyArmed        Code = 25
	CodeSequenceInFlight    Code = 26
	CodeConfirmationTimeout Code = 27
	CodeSigner              Code = 28
)

// Error is a typed CLI error that carries a stable error code.
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

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodeParse:
		return "parse_failure"
	case CodeResolution:
		return "resolution_failure"
	case CodePermission:
		return "permission_failure"
	case CodeCancelled:
		return "user_cancellation"
	case CodeRegistration:
		return "registration_failure"
	case CodeAlreadyArmed:
		return "already_armed"
	case CodeSequenceInFlight:
		return "sequence_in_flight"
	case CodeConfirmationTimeout:
		return "confirmation_timeout"
	case CodeSigner:
		return "signer_error"
	default:
		return "internal_error"
	}
}
