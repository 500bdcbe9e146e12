package reporter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/site-attendance/reporter"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sink struct {
	server  *httptest.Server
	mu      sync.Mutex
	batches []reporter.Batch
	status  int
}

func newSink(t *testing.T, status int) *sink {
	t.Helper()
	s := &sink{status: status}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b reporter.Batch
		if err := json.NewDecoder(r.Body).Decode(&b); err == nil {
			s.mu.Lock()
			s.batches = append(s.batches, b)
			s.mu.Unlock()
		}
		w.WriteHeader(s.status)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *sink) Batches() []reporter.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reporter.Batch(nil), s.batches...)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC)}
}

func TestReporter_Dedup(t *testing.T) {
	clock := newClock()
	r := reporter.New(reporter.WithNowFunc(clock.Now), reporter.WithProduction(true))

	for i := 0; i < 5; i++ {
		r.Report("X", "boom", nil)
		clock.Advance(10 * time.Second)
	}

	pending := r.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, 5, pending[0].Count)
	require.Equal(t, reporter.LevelError, pending[0].Level)

	clock.Advance(11 * time.Second) // 61s after the first occurrence
	r.Report("X", "boom", nil)

	pending = r.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, 5, pending[0].Count)
	require.Equal(t, 1, pending[1].Count)
	require.NotEqual(t, pending[0].ID, pending[1].ID)
}

func TestReporter_ExtraFields(t *testing.T) {
	r := reporter.New(reporter.WithProduction(true))
	r.Report("HTTP_ERROR", "bad gateway", &reporter.Extra{
		Level:      reporter.LevelWarn,
		Endpoint:   "/system/attendance/check-in",
		HTTPStatus: 502,
		WorkerID:   "w1",
	})

	pending := r.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, reporter.LevelWarn, pending[0].Level)
	require.Equal(t, "/system/attendance/check-in", pending[0].Endpoint)
	require.Equal(t, 502, pending[0].HTTPStatus)
	require.Equal(t, "w1", pending[0].WorkerID)
}

func TestReporter_QueueEvictsOldest(t *testing.T) {
	r := reporter.New(reporter.WithQueueSize(3), reporter.WithProduction(true))

	for _, code := range []string{"A", "B", "C", "D"} {
		r.Report(code, code, nil)
	}

	pending := r.Pending()
	require.Len(t, pending, 3)
	require.Equal(t, "B", pending[0].Code)
	require.Equal(t, "D", pending[2].Code)

	t.Run("evicted code starts a fresh entry", func(t *testing.T) {
		r.Report("A", "again", nil)
		pending := r.Pending()
		require.Len(t, pending, 3)
		require.Equal(t, "C", pending[0].Code)
		require.Equal(t, "A", pending[2].Code)
		require.Equal(t, 1, pending[2].Count)
	})
}

func TestReporter_Flush(t *testing.T) {
	t.Run("unconfigured keeps events", func(t *testing.T) {
		r := reporter.New(reporter.WithProduction(true))
		r.Report("X", "boom", nil)
		r.Flush(context.Background())
		require.Len(t, r.Pending(), 1)
	})

	t.Run("drains and clears dedup index", func(t *testing.T) {
		s := newSink(t, http.StatusOK)
		clock := newClock()
		r := reporter.New(reporter.WithNowFunc(clock.Now), reporter.WithProduction(true), reporter.WithFlushInterval(time.Hour))
		r.Configure(s.server.URL)
		defer r.Close(context.Background())

		r.Report("X", "boom", nil)
		r.Report("X", "boom", nil)
		r.Report("Y", "other", nil)
		r.Flush(context.Background())

		require.Empty(t, r.Pending())
		batches := s.Batches()
		require.Len(t, batches, 1)
		require.NotEmpty(t, batches[0].ID)
		require.Len(t, batches[0].Events, 2)
		require.Equal(t, 2, batches[0].Events[0].Count)

		r.Report("X", "boom", nil)
		pending := r.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, 1, pending[0].Count)
	})

	t.Run("sink failure is swallowed", func(t *testing.T) {
		s := newSink(t, http.StatusInternalServerError)
		r := reporter.New(reporter.WithProduction(true), reporter.WithFlushInterval(time.Hour))
		r.Configure(s.server.URL)
		defer r.Close(context.Background())

		r.Report("X", "boom", nil)
		require.NotPanics(t, func() { r.Flush(context.Background()) })
		require.Empty(t, r.Pending())
	})

	t.Run("unreachable sink is swallowed", func(t *testing.T) {
		r := reporter.New(reporter.WithProduction(true), reporter.WithFlushInterval(time.Hour))
		r.Configure("http://127.0.0.1:1/errors")
		defer r.Close(context.Background())

		r.Report("X", "boom", nil)
		require.NotPanics(t, func() { r.Flush(context.Background()) })
	})
}

func TestReporter_PeriodicFlush(t *testing.T) {
	s := newSink(t, http.StatusOK)
	r := reporter.New(reporter.WithProduction(true), reporter.WithFlushInterval(10*time.Millisecond))
	r.Configure(s.server.URL)
	defer r.Close(context.Background())

	r.Report("TICK", "periodic", nil)

	require.Eventually(t, func() bool {
		return len(s.Batches()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReporter_CloseFlushesTail(t *testing.T) {
	s := newSink(t, http.StatusOK)
	r := reporter.New(reporter.WithProduction(true), reporter.WithFlushInterval(time.Hour))
	r.Configure(s.server.URL)

	r.Report("TAIL", "last words", nil)
	r.Close(context.Background())

	require.Len(t, s.Batches(), 1)
	require.NotPanics(t, func() { r.Close(context.Background()) })
}

func TestReporter_NotifyHiddenThrottled(t *testing.T) {
	s := newSink(t, http.StatusOK)
	r := reporter.New(reporter.WithProduction(true), reporter.WithFlushInterval(time.Hour), reporter.WithHiddenFlushLimit(time.Hour, 1))
	r.Configure(s.server.URL)
	defer r.Close(context.Background())

	r.Report("HIDDEN", "navigating away", nil)
	require.True(t, r.NotifyHidden(context.Background()))

	r.Report("HIDDEN2", "again", nil)
	require.False(t, r.NotifyHidden(context.Background()))
	require.Len(t, s.Batches(), 1)
	require.Len(t, r.Pending(), 1)
}

func TestReporter_NilSafe(t *testing.T) {
	var r *reporter.Reporter
	require.NotPanics(t, func() {
		r.Report("X", "boom", nil)
		r.Configure("http://example.invalid")
		r.Flush(context.Background())
		r.NotifyHidden(context.Background())
		r.Close(context.Background())
	})
	require.False(t, r.Configured())
	require.Nil(t, r.Pending())
}
