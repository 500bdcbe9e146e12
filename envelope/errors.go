package envelope

import (
	"errors"
	"fmt"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
)

var errInvalidBody = errors.New("response body is not a JSON object")

// Kind classifies a failed backend call.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindHTTP            Kind = "http"
	KindApplication     Kind = "application"
	KindInvalidResponse Kind = "invalid_response"
	KindSessionExpired  Kind = "session_expired"
)

// RequestError describes a failed backend call. It unwraps to the matching taxonomy
// sentinel from internal/errors and to the underlying cause.
type RequestError struct {
	Kind     Kind
	Endpoint string
	Status   int    // HTTP status, 0 when no response was received
	Code     int    // application code from the envelope, if any
	Message  string // human readable message sourced from the response
	Err      error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %s", e.Endpoint, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	errs := []error{kindSentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NetworkError wraps a transport failure where no response was received.
func NetworkError(endpoint string, err error) *RequestError {
	return &RequestError{Kind: KindNetwork, Endpoint: endpoint, Message: "network unavailable", Err: err}
}

func kindSentinel(k Kind) error {
	switch k {
	case KindNetwork:
		return appErrors.ErrNetwork
	case KindHTTP:
		return appErrors.ErrHTTP
	case KindApplication:
		return appErrors.ErrApplication
	case KindSessionExpired:
		return appErrors.ErrSessionExpired
	default:
		return appErrors.ErrInvalidResponse
	}
}
