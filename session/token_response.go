package session

import "github.com/jrsteele09/site-attendance/internal/utils"

// Credentials is the body of the login request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the payload returned by /auth/login and /auth/refresh, either bare
// or inside the data field of the response envelope.
type TokenResponse struct {
	// AccessToken is the bearer credential for authenticated calls.
	// Lifespan: short (server defined, see ExpiresIn). Kept in memory only.
	AccessToken string `json:"accessToken"`

	// RefreshToken mints new access tokens via /auth/refresh.
	// The only credential allowed to survive a reload. May be omitted on refresh,
	// in which case the existing refresh token stays in use.
	RefreshToken string `json:"refreshToken"`

	// ExpiresIn is the access token lifetime in seconds. The backend does not send an
	// issue time; the client stamps its own wall clock on receipt.
	ExpiresIn int64 `json:"expiresIn"`

	// WorkerInfo identifies the authenticated worker. Login only.
	WorkerInfo *WorkerInfo `json:"workerInfo,omitempty"`
}

type WorkerInfo struct {
	ID       utils.FlexString `json:"id"`
	WorkerID utils.FlexString `json:"workerId"`
	Name     string           `json:"name"`
}

func (w *WorkerInfo) identifier() string {
	if w == nil {
		return ""
	}
	return utils.FirstNonEmpty(w.WorkerID.String(), w.ID.String())
}
