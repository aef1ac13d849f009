package media

import (
	"errors"
	"fmt"
)

// Code identifies a class of native engine failure.
type Code string

const (
	CodeInvalidPath    Code = "invalidpath"
	CodePrepareFail    Code = "preparefail"
	CodeStartFail      Code = "startfail"
	CodeNotFound       Code = "notfound"
	CodeStopFail       Code = "stopfail"
	CodeSeekFail       Code = "seekfail"
	CodeSeekError      Code = "seekerror"
	CodeNotSupported   Code = "notsupported"
	CodeNoPath         Code = "nopath"
	CodeDestroyed      Code = "destroyed"
	CodeInvalidOptions Code = "invalidoptions"
)

// Error is returned by engines and controllers for native failures.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is regardless of Op and the wrapped cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidPath  = &Error{Code: CodeInvalidPath}
	ErrPrepareFail  = &Error{Code: CodePrepareFail}
	ErrStartFail    = &Error{Code: CodeStartFail}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrStopFail     = &Error{Code: CodeStopFail}
	ErrNotSupported = &Error{Code: CodeNotSupported}
	ErrNoPath       = &Error{Code: CodeNoPath}
	ErrDestroyed    = &Error{Code: CodeDestroyed}
	ErrSeekError    = &Error{Code: CodeSeekError}

	// ErrSeekSuperseded is what an engine reports when a newer seek overtook
	// an outstanding one. Controllers swallow it. Any other seek failure uses
	// CodeSeekError.
	ErrSeekSuperseded = &Error{Code: CodeSeekFail}
)

// NewError builds an *Error for op, wrapping cause (which may be nil).
func NewError(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// Errorf is NewError with a formatted cause.
func Errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
