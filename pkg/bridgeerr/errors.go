// Package bridgeerr defines the error taxonomy shared by every bridge component.
//
// Each failure carries a Code. Codes are never collapsed: callers branch on
// them with errors.Is against the exported sentinels, or with CodeOf.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Code identifies a bridge failure.
type Code string

const (
	DuplicateOperationName Code = "DuplicateOperationName"
	RegistryFrozen         Code = "RegistryFrozen"
	UnresolvedType         Code = "UnresolvedType"
	RangeUnsafePrimitive   Code = "RangeUnsafePrimitive"
	NestedExportFailure    Code = "NestedExportFailure"
	InvalidDeclaration     Code = "InvalidDeclaration"
	NotFound               Code = "NotFound"
	ArgumentDecodeError    Code = "ArgumentDecodeError"
	HandlerFault           Code = "HandlerFault"
	UnknownChannel         Code = "UnknownChannel"
	PayloadSchemaViolation Code = "PayloadSchemaViolation"
)

// Class tells how a failure propagates.
type Class int

const (
	// Fatal failures abort startup or the export step.
	Fatal Class = iota
	// Recovered failures are turned into a failure envelope for the caller.
	Recovered
	// Reported failures are returned to the publisher and affect nothing else.
	Reported
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case Fatal:
		return "fatal"
	case Recovered:
		return "recovered"
	case Reported:
		return "reported"
	default:
		return "unknown"
	}
}

// ClassOf returns the propagation class of a code.
func ClassOf(code Code) Class {
	switch code {
	case NotFound, ArgumentDecodeError, HandlerFault:
		return Recovered
	case UnknownChannel, PayloadSchemaViolation:
		return Reported
	default:
		return Fatal
	}
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrDuplicateOperationName = &Error{Code: DuplicateOperationName}
	ErrRegistryFrozen         = &Error{Code: RegistryFrozen}
	ErrUnresolvedType         = &Error{Code: UnresolvedType}
	ErrRangeUnsafePrimitive   = &Error{Code: RangeUnsafePrimitive}
	ErrNestedExportFailure    = &Error{Code: NestedExportFailure}
	ErrInvalidDeclaration     = &Error{Code: InvalidDeclaration}
	ErrNotFound               = &Error{Code: NotFound}
	ErrArgumentDecodeError    = &Error{Code: ArgumentDecodeError}
	ErrHandlerFault           = &Error{Code: HandlerFault}
	ErrUnknownChannel         = &Error{Code: UnknownChannel}
	ErrPayloadSchemaViolation = &Error{Code: PayloadSchemaViolation}
)

// Error is a coded bridge failure. Path locates the failure inside a type or
// value (e.g. "Template.levels[].fallback") when one applies.
type Error struct {
	Code    Code
	Path    string
	Message string
	Err     error
}

// New creates an Error with a message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AtPath creates an Error located at path.
func AtPath(code Code, path string, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with code at path whose cause is err.
func Wrap(code Code, path string, err error) *Error {
	return &Error{Code: code, Path: path, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Path != "" && msg != "":
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, msg)
	case e.Path != "":
		return fmt.Sprintf("%s at %s", e.Code, e.Path)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Code, msg)
	default:
		return string(e.Code)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Class returns the propagation class of the error.
func (e *Error) Class() Class {
	return ClassOf(e.Code)
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsFatal reports whether err is a fatal (startup or build time) failure.
func IsFatal(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Class() == Fatal
}
