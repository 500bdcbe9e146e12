package errors

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the session, attendance and reporting packages
var (
	// Transport errors
	ErrNetwork         = errors.New("network error")
	ErrHTTP            = errors.New("http error")
	ErrApplication     = errors.New("application error")
	ErrInvalidResponse = errors.New("invalid response")

	// Input errors
	ErrParse      = errors.New("parse error")
	ErrValidation = errors.New("validation error")

	// Device errors
	ErrPermission = errors.New("permission error")

	// Session errors
	ErrSessionExpired   = errors.New("session expired")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Storage errors
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
