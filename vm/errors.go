package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Script error taxonomy
// ---------------------------------------------------------------------------

// ErrorCode classifies a script-visible failure. Codes mirror the legacy
// runtime's failure modes; CodeGeneric covers everything without a more
// specific classification.
type ErrorCode int

const (
	CodeGeneric ErrorCode = iota
	CodeInvalidHandle
	CodeAllocatorExhausted
	CodeHandlerNotFound
	CodePropertyNotFound
	CodeTypeMismatch
	CodeInvalidArgument
	CodeCastNotFound
	CodeCastMemberNotFound
	CodeIndexOutOfRange
	CodeDivisionByZero
	CodeMalformedBytecode
	CodeStackOverflow
)

var errorCodeNames = map[ErrorCode]string{
	CodeGeneric:            "Generic",
	CodeInvalidHandle:      "InvalidHandle",
	CodeAllocatorExhausted: "AllocatorExhausted",
	CodeHandlerNotFound:    "HandlerNotFound",
	CodePropertyNotFound:   "PropertyNotFound",
	CodeTypeMismatch:       "TypeMismatch",
	CodeInvalidArgument:    "InvalidArgument",
	CodeCastNotFound:       "CastNotFound",
	CodeCastMemberNotFound: "CastMemberNotFound",
	CodeIndexOutOfRange:    "IndexOutOfRange",
	CodeDivisionByZero:     "DivisionByZero",
	CodeMalformedBytecode:  "MalformedBytecode",
	CodeStackOverflow:      "StackOverflow",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ScriptError is the error type for every failure a script can cause or
// observe. All codes except CodeStackOverflow are recoverable: the host
// logs them and resumes at the next tick. CodeStackOverflow terminates
// the run loop.
type ScriptError struct {
	Code    ErrorCode
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// NewError creates a ScriptError with the given code.
func NewError(code ErrorCode, message string) *ScriptError {
	return &ScriptError{Code: code, Message: message}
}

// Errorf creates a ScriptError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *ScriptError {
	return &ScriptError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, unwrapping as needed.
// Non-script errors classify as CodeGeneric.
func CodeOf(err error) ErrorCode {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeGeneric
}

// IsFatal reports whether err must terminate the run loop rather than
// surface at the next tick.
func IsFatal(err error) bool {
	return CodeOf(err) == CodeStackOverflow
}
