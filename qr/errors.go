package qr

import (
	"fmt"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
)

type Kind string

const (
	KindInvalidFormat    Kind = "invalid_format"
	KindInvalidTimestamp Kind = "invalid_timestamp"
)

var (
	ErrInvalidFormat    = &ParseError{Kind: KindInvalidFormat}
	ErrInvalidTimestamp = &ParseError{Kind: KindInvalidTimestamp}
)

// ParseError is returned by Parse. errors.Is matches on Kind.
type ParseError struct {
	Kind Kind
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qr: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("qr: %s", e.Kind)
}

func (e *ParseError) Is(target error) bool {
	if target == appErrors.ErrParse {
		return true
	}
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
