package session

import (
	"time"

	"golang.org/x/oauth2"
)

const bookkeepingKey = "bookkeeping"

// state is the process-lifetime session. token is nil whenever the session is not
// authenticated; when it is set, issuedAt and expiresIn are set too.
type state struct {
	token      *oauth2.Token // live access credential, never persisted
	refresh    string
	expiresIn  int64 // seconds
	issuedAt   int64 // epoch seconds, client wall clock
	workerID   string
	workerName string
}

// Bookkeeping is the durable part of a session.
type Bookkeeping struct {
	RefreshToken         string `json:"refreshToken"`
	ExpiresInSeconds     int64  `json:"expiresInSeconds"`
	IssuedAtEpochSeconds int64  `json:"issuedAtEpochSeconds"`
	WorkerID             string `json:"workerId,omitempty"`
	WorkerName           string `json:"workerName,omitempty"`
}

// Status is a read-only view of the session for display.
type Status struct {
	Authenticated bool
	WorkerID      string
	WorkerName    string
	ExpiresAt     time.Time
	HasRefresh    bool
}

func (s state) bookkeeping() Bookkeeping {
	return Bookkeeping{
		RefreshToken:         s.refresh,
		ExpiresInSeconds:     s.expiresIn,
		IssuedAtEpochSeconds: s.issuedAt,
		WorkerID:             s.workerID,
		WorkerName:           s.workerName,
	}
}
