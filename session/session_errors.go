package session

import "errors"

var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrMissingToken   = errors.New("response did not include an access token")
	ErrSessionEnded   = errors.New("session ended while the refresh was in flight")
)

// Reporter codes emitted by the session manager
const (
	CodeLoginFailed    = "AUTH_LOGIN_FAILED"
	CodeRefreshFailed  = "AUTH_REFRESH_FAILED"
	CodeNetworkError   = "AUTH_NETWORK_ERROR"
	CodeSessionExpired = "AUTH_SESSION_EXPIRED"
	CodePersistFailed  = "AUTH_PERSIST_FAILED"
)
