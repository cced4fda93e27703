package errs

import (
	"errors"
	"fmt"
)

// UserErrorf is a user-facing error.
// This helper exists mostly to avoid linters complaining about errors starting
// with a capitalized letter.
func UserErrorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

// Error wraps an underlying error with a user-facing reason.
//
// Reason should be short and actionable. Err may carry the technical detail.
// When Err is nil, Error() returns Reason.
type Error struct {
	Err    error
	Reason string
}

// Wrap creates an Error with the given underlying error and user-facing reason.
func Wrap(err error, reason string) Error {
	return Error{Err: err, Reason: reason}
}

// Wrapf creates an Error with the given underlying error and a formatted reason.
func Wrapf(err error, format string, a ...any) Error {
	return Error{Err: err, Reason: fmt.Sprintf(format, a...)}
}

func (e Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

func (e Error) Unwrap() error {
	return e.Err
}

// ReasonText returns the user-facing reason for the error.
func (e Error) ReasonText() string {
	return e.Reason
}

// ToolErrorCode categorizes tool failures.
type ToolErrorCode string

// Tool error codes.
const (
	CodeInvalidArguments ToolErrorCode = "invalid_arguments"
	CodeNotFound         ToolErrorCode = "not_found"
	CodeOutsideWorkspace ToolErrorCode = "outside_workspace"
	CodeExecution        ToolErrorCode = "execution"
)

// ToolError is returned by tool adapters. Its message is sent back to the
// model verbatim, so it should read as an instruction the model can act on.
type ToolError struct {
	Tool    string
	Code    ToolErrorCode
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	return e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError creates a ToolError with a formatted message.
func NewToolError(tool string, code ToolErrorCode, format string, a ...any) *ToolError {
	return &ToolError{Tool: tool, Code: code, Message: fmt.Sprintf(format, a...)}
}

// InvalidArguments reports malformed tool arguments.
func InvalidArguments(tool string, err error) *ToolError {
	return &ToolError{
		Tool:    tool,
		Code:    CodeInvalidArguments,
		Message: fmt.Sprintf("invalid arguments for %s: %v", tool, err),
		Err:     err,
	}
}

// IsToolCode reports whether err is a ToolError with the given code.
func IsToolCode(err error, code ToolErrorCode) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Code == code
}
