package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/site-attendance/envelope"
	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/internal/utils"
	"github.com/jrsteele09/site-attendance/reporter"
	"github.com/jrsteele09/site-attendance/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	LoginPath    = "/auth/login"
	RefreshPath  = "/auth/refresh"
	UserInfoPath = "/auth/user/info"

	// RefreshTokenHeader carries the refresh token on /auth/refresh
	RefreshTokenHeader = "Refresh-Token"
	RequestIDHeader    = "X-Request-Id"

	defaultExpiryBuffer     = 30 * time.Second
	defaultExpiresInSeconds = 3600
	defaultRequestTimeout   = 15 * time.Second
)

// Manager owns the access/refresh token pair and is the only path for authenticated
// backend calls. The access token lives in memory; the refresh token and expiry
// bookkeeping are persisted through the Store.
type Manager struct {
	baseURL      string
	tenantHeader string
	tenantID     string
	client       *http.Client
	store        storage.Store
	reporter     *reporter.Reporter
	onExpired    func()
	expiryBuffer time.Duration
	nowFunc      func() time.Time

	mu    sync.RWMutex
	state state
	// generation changes whenever the session is replaced or cleared. A refresh
	// started under an older generation is discarded.
	generation uint64
	refresh    singleflight.Group
}

type ManagerOption func(*Manager)

// WithNowFunc overrides the clock used for issue times and expiry checks.
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithHTTPClient sets the client used for every backend call.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		m.client = client
	}
}

// WithTenant sets the fixed header identifying the tenant on every request.
func WithTenant(header, tenantID string) ManagerOption {
	return func(m *Manager) {
		m.tenantHeader = header
		m.tenantID = tenantID
	}
}

// WithReporter sets where login, refresh and persistence failures are reported.
func WithReporter(r *reporter.Reporter) ManagerOption {
	return func(m *Manager) {
		m.reporter = r
	}
}

// WithSessionExpiredHandler is invoked when the session cannot be recovered and the
// user has to log in again.
func WithSessionExpiredHandler(handler func()) ManagerOption {
	return func(m *Manager) {
		m.onExpired = handler
	}
}

// WithExpiryBuffer sets how long before its expiry an access token counts as expired.
func WithExpiryBuffer(buffer time.Duration) ManagerOption {
	return func(m *Manager) {
		m.expiryBuffer = buffer
	}
}

// New creates a Manager for the backend at baseURL. It starts unauthenticated; call
// Login or RestoreSession.
func New(baseURL string, store storage.Store, options ...ManagerOption) (*Manager, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[session New] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[session New] store is required")
	}

	m := &Manager{
		baseURL:      strings.TrimRight(baseURL, "/"),
		store:        store,
		expiryBuffer: defaultExpiryBuffer,
	}
	for _, opt := range options {
		opt(m)
	}

	if m.client == nil {
		m.client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	return m, nil
}

// Login exchanges credentials for a token pair. Failures are returned as
// *envelope.RequestError values.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	body, err := json.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "Manager.Login Marshal")
	}

	req, err := m.newRequest(ctx, http.MethodPost, LoginPath, body)
	if err != nil {
		return errors.Wrap(err, "Manager.Login newRequest")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		reqErr := envelope.NetworkError(LoginPath, err)
		m.report(CodeNetworkError, reqErr)
		return reqErr
	}

	tokens, reqErr := m.readTokens(resp, LoginPath)
	if reqErr != nil {
		if reqErr.Status == 0 || reqErr.Status >= http.StatusInternalServerError || reqErr.Kind == envelope.KindInvalidResponse {
			m.report(CodeLoginFailed, reqErr)
		}
		return reqErr
	}

	m.mu.Lock()
	m.generation++
	m.state = state{}
	m.apply(tokens)
	s := m.state
	m.persist(s)
	m.mu.Unlock()

	log.Info().Str("worker_id", s.workerID).Msg("session: logged in")
	return nil
}

// IsAuthenticated reports whether an access token is held in memory.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.token != nil
}

// IsExpired is true when now >= issuedAt + expiresIn - buffer, or when there is no
// access token at all.
func (m *Manager) IsExpired() bool {
	m.mu.RLock()
	s := m.state
	m.mu.RUnlock()

	if s.token == nil {
		return true
	}
	deadline := s.issuedAt + s.expiresIn - int64(m.expiryBuffer/time.Second)
	return m.nowFunc().Unix() >= deadline
}

// WorkerID returns the authenticated worker's identifier.
func (m *Manager) WorkerID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.workerID
}

// Status returns a snapshot of the session for display.
func (m *Manager) Status() Status {
	m.mu.RLock()
	s := m.state
	m.mu.RUnlock()

	st := Status{
		Authenticated: s.token != nil,
		WorkerID:      s.workerID,
		WorkerName:    s.workerName,
		HasRefresh:    s.refresh != "",
	}
	if s.token != nil {
		st.ExpiresAt = s.token.Expiry
	}
	return st
}

// Refresh exchanges the refresh token for a new token triple. Concurrent callers share
// one request. Any failure clears the whole session.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := m.refresh.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	refreshToken := m.state.refresh
	generation := m.generation
	m.mu.RUnlock()

	if refreshToken == "" {
		m.clearIf(generation)
		return "", &envelope.RequestError{Kind: envelope.KindSessionExpired, Endpoint: RefreshPath, Err: ErrNoRefreshToken}
	}

	req, err := m.newRequest(ctx, http.MethodPost, RefreshPath, nil)
	if err != nil {
		m.clearIf(generation)
		return "", errors.Wrap(err, "Manager.Refresh newRequest")
	}
	req.Header.Set(RefreshTokenHeader, refreshToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", m.refreshFailed(generation, envelope.NetworkError(RefreshPath, err))
	}

	tokens, reqErr := m.readTokens(resp, RefreshPath)
	if reqErr != nil {
		return "", m.refreshFailed(generation, reqErr)
	}

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		log.Debug().Msg("session: discarding refresh for a session that has ended")
		return "", &envelope.RequestError{Kind: envelope.KindSessionExpired, Endpoint: RefreshPath, Err: ErrSessionEnded}
	}
	m.apply(tokens)
	s := m.state
	m.persist(s)
	m.mu.Unlock()

	log.Debug().Str("worker_id", s.workerID).Msg("session: access token refreshed")
	return s.token.AccessToken, nil
}

func (m *Manager) refreshFailed(generation uint64, cause *envelope.RequestError) error {
	m.clearIf(generation)
	m.report(CodeRefreshFailed, cause)
	return &envelope.RequestError{
		Kind:     envelope.KindSessionExpired,
		Endpoint: RefreshPath,
		Status:   cause.Status,
		Message:  cause.Message,
		Err:      cause,
	}
}

// AuthorizedFetch issues an authenticated request. target is a path relative to the
// base URL or an absolute URL. An expired token is refreshed first; a 401 triggers
// exactly one refresh and one retry. When the session cannot be recovered the
// session-expired handler runs and an error matching ErrSessionExpired is returned.
// The caller owns the returned response body.
func (m *Manager) AuthorizedFetch(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	if m.IsExpired() {
		if _, err := m.Refresh(ctx); err != nil {
			return nil, m.expire(target, err)
		}
	}

	resp, err := m.send(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if _, err := m.Refresh(ctx); err != nil {
		return nil, m.expire(target, err)
	}
	return m.send(ctx, method, target, body)
}

func (m *Manager) send(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	req, err := m.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.AuthorizedFetch newRequest")
	}

	m.mu.RLock()
	token := m.state.token
	m.mu.RUnlock()
	if token != nil {
		token.SetAuthHeader(req)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		reqErr := envelope.NetworkError(target, err)
		m.report(CodeNetworkError, reqErr)
		return nil, reqErr
	}
	return resp, nil
}

func (m *Manager) expire(target string, cause error) error {
	m.report(CodeSessionExpired, &envelope.RequestError{Kind: envelope.KindSessionExpired, Endpoint: target})
	if m.onExpired != nil {
		m.onExpired()
	}
	return &envelope.RequestError{Kind: envelope.KindSessionExpired, Endpoint: target, Message: "session expired", Err: cause}
}

// RestoreSession mints a fresh access token from a persisted refresh token. It returns
// false when there is nothing to restore or the refresh fails.
func (m *Manager) RestoreSession(ctx context.Context) bool {
	var bk Bookkeeping
	if err := m.store.Get(storage.NamespaceSession, bookkeepingKey, &bk); err != nil {
		if !appErrors.Is(err, storage.ErrNotFound) {
			log.Err(err).Msg("session: failed to read persisted session")
		}
		return false
	}
	if bk.RefreshToken == "" {
		return false
	}

	m.mu.Lock()
	m.generation++
	m.state = state{
		refresh:    bk.RefreshToken,
		expiresIn:  bk.ExpiresInSeconds,
		issuedAt:   bk.IssuedAtEpochSeconds,
		workerID:   bk.WorkerID,
		workerName: bk.WorkerName,
	}
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		log.Info().Err(err).Msg("session: restore failed")
		return false
	}
	return true
}

// Logout ends the session and removes the durable bookkeeping.
func (m *Manager) Logout(ctx context.Context) {
	m.clear()
	log.Info().Msg("session: logged out")
}

func (m *Manager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// clearIf clears the session only if it is still the one of the given generation.
func (m *Manager) clearIf(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == generation {
		m.clearLocked()
	}
}

func (m *Manager) clearLocked() {
	m.generation++
	m.state = state{}
	if err := m.store.Delete(storage.NamespaceSession, bookkeepingKey); err != nil {
		log.Err(err).Msg("session: failed to delete persisted session")
	}
}

// apply installs a token response. Callers hold m.mu.
func (m *Manager) apply(tokens TokenResponse) {
	now := m.nowFunc()
	claims := parseClaims(tokens.AccessToken)

	expiresIn := tokens.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = claims.expiresIn(now)
	}

	m.state.issuedAt = now.Unix()
	m.state.expiresIn = expiresIn
	if tokens.RefreshToken != "" {
		m.state.refresh = tokens.RefreshToken
	}
	m.state.token = &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: m.state.refresh,
		Expiry:       time.Unix(m.state.issuedAt+expiresIn, 0),
	}

	if id := utils.FirstNonEmpty(tokens.WorkerInfo.identifier(), claims.workerID); id != "" {
		m.state.workerID = id
	}
	if tokens.WorkerInfo != nil && tokens.WorkerInfo.Name != "" {
		m.state.workerName = tokens.WorkerInfo.Name
	}
}

// persist writes the durable bookkeeping. Callers hold m.mu so a write cannot land
// after a concurrent clear.
func (m *Manager) persist(s state) {
	if err := m.store.Set(storage.NamespaceSession, bookkeepingKey, s.bookkeeping()); err != nil {
		log.Err(err).Msg("session: failed to persist session")
		m.reporter.Report(CodePersistFailed, err.Error(), &reporter.Extra{Level: reporter.LevelWarn, WorkerID: s.workerID})
	}
}

func (m *Manager) readTokens(resp *http.Response, endpoint string) (TokenResponse, *envelope.RequestError) {
	env, err := envelope.Read(resp, endpoint)
	if err != nil {
		var reqErr *envelope.RequestError
		if errors.As(err, &reqErr) {
			return TokenResponse{}, reqErr
		}
		return TokenResponse{}, &envelope.RequestError{Kind: envelope.KindInvalidResponse, Endpoint: endpoint, Err: err}
	}

	var tokens TokenResponse
	if err := env.DecodePayload(&tokens); err != nil || tokens.AccessToken == "" {
		return TokenResponse{}, &envelope.RequestError{Kind: envelope.KindInvalidResponse, Endpoint: endpoint, Status: resp.StatusCode, Message: "missing access token", Err: ErrMissingToken}
	}
	return tokens, nil
}

func (m *Manager) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	url := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		url = m.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if m.tenantHeader != "" && m.tenantID != "" {
		req.Header.Set(m.tenantHeader, m.tenantID)
	}
	return req, nil
}

func (m *Manager) report(code string, reqErr *envelope.RequestError) {
	m.reporter.Report(code, reqErr.Error(), &reporter.Extra{
		Endpoint:   reqErr.Endpoint,
		HTTPStatus: reqErr.Status,
		WorkerID:   m.WorkerID(),
	})
}

type tokenClaims struct {
	workerID string
	expiry   time.Time
}

// parseClaims reads identity and expiry from a JWT access token without verifying it.
// The backend verifies; the client only uses the claims as fallbacks.
func parseClaims(raw string) tokenClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return tokenClaims{}
	}

	var tc tokenClaims
	tc.workerID = utils.FormatClaim(claims["workerId"])
	if tc.workerID == "" {
		tc.workerID, _ = claims.GetSubject()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.expiry = exp.Time
	}
	return tc
}

func (c tokenClaims) expiresIn(now time.Time) int64 {
	if c.expiry.IsZero() || !c.expiry.After(now) {
		return defaultExpiresInSeconds
	}
	return int64(c.expiry.Sub(now) / time.Second)
}
