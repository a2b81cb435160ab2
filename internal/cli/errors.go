// Package cli provides shared configuration and utilities for the caravan CLI.
package cli

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitGeneral      = 1
	ExitConfig       = 2
	ExitContention   = 3
	ExitStoreConnect = 4
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitGeneral)
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// ContentionError creates an ExitError with ExitContention code. Used when
// another runner holds the migration lock; the caller may retry later.
func ContentionError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitContention, Message: msg, Err: err}
}

// StoreConnectError creates an ExitError with ExitStoreConnect code.
func StoreConnectError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitStoreConnect, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}
