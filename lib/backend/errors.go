package backend

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                       // 1: Operation failed inside the backend (I/O, codec, engine).
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend.
	RetCInvalidOperation                    // 3: Precondition or argument violation.
	RetCBusy                                // 4: Contention exhausted the retries, retry the whole operation.
	RetCNotInitialized                      // 5: The store (or a counter) was never initialized.
	RetCConfigError                         // 6: Invalid or missing configuration.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCBusy:
		return "Busy"
	case RetCNotInitialized:
		return "NotInitialized"
	case RetCConfigError:
		return "ConfigError"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the single error kind that crosses the BackendStore boundary.
// It carries a return code, the store and operation it happened in, and the
// original cause (if any) for errors.Is / errors.As.
type Error struct {
	Code  RetCode // The return code
	Store string  // Name of the store, may be empty
	Op    string  // Operation that failed, may be empty
	Msg   string  // The error message
	Cause error   // Wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "backend error (code %s)", e.Code)
	if e.Store != "" {
		fmt.Fprintf(&sb, " in store '%s'", e.Store)
	}
	if e.Op != "" {
		fmt.Fprintf(&sb, " during %s", e.Op)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new error with the given code and a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Unsupported returns the error used for optional capabilities a store lacks.
func Unsupported(store, op string) *Error {
	return &Error{Code: RetCUnsupportedOperation, Store: store, Op: op, Msg: "operation not supported by this backend"}
}

// Wrap attaches store and operation context to err.
// Errors that already are *Error keep their code and only get missing context
// filled in, everything else becomes a RetCInternalError carrying err as cause.
func Wrap(err error, store, op string) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		if be.Store != "" && be.Op != "" {
			return err
		}
		wrapped := *be
		if wrapped.Store == "" {
			wrapped.Store = store
		}
		if wrapped.Op == "" {
			wrapped.Op = op
		}
		return &wrapped
	}
	return &Error{Code: RetCInternalError, Store: store, Op: op, Cause: err}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// CodeOf returns the return code of err. Nil is RetCSuccess, errors that are
// not *Error are RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return RetCInternalError
}

// IsUnsupported reports whether err signals a missing optional capability.
func IsUnsupported(err error) bool {
	return CodeOf(err) == RetCUnsupportedOperation
}

// IsBusy reports whether err signals contention that the caller may retry.
func IsBusy(err error) bool {
	return CodeOf(err) == RetCBusy
}
