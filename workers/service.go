package workers

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/site-attendance/envelope"
	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/reporter"
	"github.com/jrsteele09/site-attendance/session"
	"github.com/jrsteele09/site-attendance/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const CodeProfileFetchFailed = "WORKER_PROFILE_FETCH_FAILED"

// SessionClient is the authenticated transport. *session.Manager implements it.
type SessionClient interface {
	WorkerID() string
	AuthorizedFetch(ctx context.Context, method, target string, body []byte) (*http.Response, error)
}

// Service fetches the authenticated worker's profile and keeps the last one in the
// profile cache.
type Service struct {
	session  SessionClient
	store    storage.Store
	reporter *reporter.Reporter
	nowFunc  func() time.Time
}

type ServiceOption func(*Service)

// WithNowFunc overrides the clock that stamps FetchedAt.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithReporter sets where fetch failures are reported.
func WithReporter(r *reporter.Reporter) ServiceOption {
	return func(s *Service) {
		s.reporter = r
	}
}

// NewService creates a profile service over an authenticated session and the local store.
func NewService(sess SessionClient, store storage.Store, options ...ServiceOption) (*Service, error) {
	if sess == nil {
		return nil, errors.New("[workers NewService] session is required")
	}
	if store == nil {
		return nil, errors.New("[workers NewService] store is required")
	}

	s := &Service{session: sess, store: store, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Fetch loads the profile from the backend and refreshes the cache.
func (s *Service) Fetch(ctx context.Context) (*Profile, error) {
	workerID := s.session.WorkerID()
	if workerID == "" {
		return nil, appErrors.ErrNotAuthenticated
	}

	resp, err := s.session.AuthorizedFetch(ctx, http.MethodGet, session.UserInfoPath, nil)
	if err != nil {
		return nil, s.fail(workerID, err)
	}
	status := resp.StatusCode

	env, err := envelope.Read(resp, session.UserInfoPath)
	if err != nil {
		return nil, s.fail(workerID, err)
	}

	var info userInfo
	if err := env.DecodePayload(&info); err != nil {
		return nil, s.fail(workerID, &envelope.RequestError{Kind: envelope.KindInvalidResponse, Endpoint: session.UserInfoPath, Status: status, Err: err})
	}

	profile := info.profile(workerID, s.nowFunc())
	if err := s.store.Set(storage.NamespaceProfile, workerID, profile); err != nil {
		log.Err(err).Str("worker_id", workerID).Msg("workers: failed to cache profile")
	}
	return &profile, nil
}

// Cached returns the last fetched profile of the authenticated worker without I/O.
func (s *Service) Cached() (*Profile, error) {
	workerID := s.session.WorkerID()
	if workerID == "" {
		return nil, appErrors.ErrNotAuthenticated
	}

	var profile Profile
	if err := s.store.Get(storage.NamespaceProfile, workerID, &profile); err != nil {
		return nil, errors.Wrap(err, "Service.Cached Get")
	}
	return &profile, nil
}

// Clear drops every cached profile.
func (s *Service) Clear() error {
	return errors.Wrap(s.store.Clear(storage.NamespaceProfile), "Service.Clear")
}

func (s *Service) fail(workerID string, err error) error {
	var reqErr *envelope.RequestError
	if errors.As(err, &reqErr) && reqErr.Kind != envelope.KindSessionExpired && reqErr.Kind != envelope.KindNetwork {
		s.reporter.Report(CodeProfileFetchFailed, err.Error(), &reporter.Extra{Endpoint: reqErr.Endpoint, HTTPStatus: reqErr.Status, WorkerID: workerID})
	}
	return errors.Wrap(err, "Service.Fetch")
}
