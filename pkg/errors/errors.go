package errors

import (
	goerrors "errors"
	"fmt"
)

// FriendlyError is an error that has a user-friendly explanation, which is
// printed instead of the raw error chain when the CLI exits.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	message string
}

func (err friendlyError) Error() string {
	return err.message
}

func (err friendlyError) FriendlyMessage() string {
	return err.message
}

// NewFriendlyError creates an error with a message meant to be read by
// humans, rather than handled programmatically.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(format, args...)}
}

// New returns an error with the given message.
func New(message string) error {
	return goerrors.New(message)
}

// ContextError annotates an error with the operation that produced it, so
// the final message reads as a chain of causes.
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return err.Context + ": " + err.Err.Error()
}

func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext wraps err with a short description of the operation that
// failed.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// RootCause returns the innermost error in err's chain.
func RootCause(err error) error {
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

// GetPrintableMessage returns the message that should be shown to the user
// for err. Friendly messages win over the raw chain.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if goerrors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}
