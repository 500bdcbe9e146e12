package workers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appErrors "github.com/jrsteele09/site-attendance/internal/errors"
	"github.com/jrsteele09/site-attendance/reporter"
	"github.com/jrsteele09/site-attendance/session"
	"github.com/jrsteele09/site-attendance/storage"
	"github.com/jrsteele09/site-attendance/storage/storagefake"
	"github.com/jrsteele09/site-attendance/workers"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	store    *storagefake.FakeStore
	reporter *reporter.Reporter
	session  *session.Manager
	service  *workers.Service
	now      time.Time

	mu       sync.Mutex
	status   int
	infoBody string
	auth     []string
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		store:    storagefake.NewFakeStore(),
		now:      time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC),
		status:   http.StatusOK,
		infoBody: `{"code":200,"data":{"workerId":1024,"name":"김철수","userName":"w1","phoneNumber":"010-1234-5678","companyName":"대한건설","jobType":"철근공","siteIds":["site-42",7]}}`,
	}
	f.reporter = reporter.New(reporter.WithProduction(true))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"accessToken":"a1","refreshToken":"r1","expiresIn":3600,"workerInfo":{"id":"1024"}}`)
	})
	mux.HandleFunc("GET /auth/user/info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, f.infoBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	var err error
	f.session, err = session.New(server.URL, f.store, session.WithNowFunc(func() time.Time { return f.now }))
	require.NoError(t, err)
	require.NoError(t, f.session.Login(context.Background(), session.Credentials{Username: "w1", Password: "p"}))

	f.service, err = workers.NewService(f.session, f.store,
		workers.WithNowFunc(func() time.Time { return f.now }),
		workers.WithReporter(f.reporter),
	)
	require.NoError(t, err)
	return f
}

func (f *testFixture) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.infoBody = status, body
}

func TestService_Fetch(t *testing.T) {
	f := setupTestFixture(t)

	profile, err := f.service.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, &workers.Profile{
		WorkerID:    "1024",
		Name:        "김철수",
		Username:    "w1",
		Phone:       "010-1234-5678",
		CompanyName: "대한건설",
		JobType:     "철근공",
		SiteIDs:     []string{"site-42", "7"},
		FetchedAt:   f.now,
	}, profile)

	f.mu.Lock()
	require.Equal(t, []string{"Bearer a1"}, f.auth)
	f.mu.Unlock()

	t.Run("cached without I/O", func(t *testing.T) {
		f.respond(http.StatusInternalServerError, `{}`)
		cached, err := f.service.Cached()
		require.NoError(t, err)
		require.Equal(t, profile, cached)
		require.Equal(t, []string{"1024"}, f.store.Keys(storage.NamespaceProfile))
	})

	t.Run("failed fetch leaves the cache", func(t *testing.T) {
		f.respond(http.StatusInternalServerError, `{"code":500,"message":"oops"}`)
		_, err := f.service.Fetch(context.Background())
		require.ErrorIs(t, err, appErrors.ErrHTTP)
		require.Equal(t, workers.CodeProfileFetchFailed, f.reporter.Pending()[0].Code)

		cached, err := f.service.Cached()
		require.NoError(t, err)
		require.Equal(t, "김철수", cached.Name)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, f.service.Clear())
		_, err := f.service.Cached()
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestService_FetchInvalidPayload(t *testing.T) {
	f := setupTestFixture(t)
	f.respond(http.StatusOK, `{"code":200,"data":"not an object"}`)

	_, err := f.service.Fetch(context.Background())
	require.ErrorIs(t, err, appErrors.ErrInvalidResponse)
}

func TestService_NotAuthenticated(t *testing.T) {
	f := setupTestFixture(t)
	f.session.Logout(context.Background())

	_, err := f.service.Fetch(context.Background())
	require.ErrorIs(t, err, appErrors.ErrNotAuthenticated)
	_, err = f.service.Cached()
	require.ErrorIs(t, err, appErrors.ErrNotAuthenticated)
}

func TestProfile(t *testing.T) {
	p := &workers.Profile{WorkerID: "1024", Username: "w1"}
	require.Equal(t, "w1", p.DisplayName())
	require.True(t, p.AssignedTo("anything"))

	p.SiteIDs = []string{"site-42"}
	require.True(t, p.AssignedTo("site-42"))
	require.False(t, p.AssignedTo("site-7"))
}
