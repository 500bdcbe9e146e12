package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/site-attendance/attendance"
	"github.com/jrsteele09/site-attendance/internal/config"
	"github.com/jrsteele09/site-attendance/location"
	"github.com/jrsteele09/site-attendance/reporter"
	"github.com/jrsteele09/site-attendance/session"
	"github.com/jrsteele09/site-attendance/storage/filestore"
	"github.com/jrsteele09/site-attendance/workers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const closeTimeout = 5 * time.Second

// app is the wired client for one CLI invocation.
type app struct {
	cfg      config.Config
	out      io.Writer
	reporter *reporter.Reporter
	session  *session.Manager
	engine   *attendance.Engine
	profiles *workers.Service
	expired  bool
}

func newApp(cfg config.Config, out io.Writer, gate attendance.Locator) (*app, error) {
	var storeOptions []filestore.Option
	if key := cfg.GetStorageKey(); key != "" {
		storeOptions = append(storeOptions, filestore.WithPassphrase(key))
	}
	store, err := filestore.New(cfg.GetDataFolder(), storeOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "newApp filestore.New")
	}

	a := &app{cfg: cfg, out: out}

	client := &http.Client{Timeout: cfg.GetRequestTimeout()}
	a.reporter = reporter.New(
		reporter.WithHTTPClient(client),
		reporter.WithQueueSize(cfg.GetReportQueueSize()),
		reporter.WithDedupWindow(cfg.GetReportDedupWindow()),
		reporter.WithFlushInterval(cfg.GetReportFlushInterval()),
		reporter.WithProduction(cfg.IsProduction()),
	)
	if endpoint := cfg.GetReportEndpoint(); endpoint != "" {
		a.reporter.Configure(endpoint)
	}

	a.session, err = session.New(cfg.GetBaseURL(), store,
		session.WithHTTPClient(client),
		session.WithTenant(cfg.GetTenantHeader(), cfg.GetTenantID()),
		session.WithExpiryBuffer(cfg.GetTokenExpiryBuffer()),
		session.WithReporter(a.reporter),
		session.WithSessionExpiredHandler(a.sessionExpired),
	)
	if err != nil {
		return nil, errors.Wrap(err, "newApp session.New")
	}

	engineOptions := []attendance.EngineOption{
		attendance.WithReporter(a.reporter),
		attendance.WithTimeZone(cfg.GetSiteTimeZone()),
		attendance.WithDeviceID(cfg.GetDeviceID()),
		attendance.WithMaximumFixAge(cfg.GetLocationMaximumAge()),
	}
	if gate != nil {
		engineOptions = append(engineOptions, attendance.WithGate(gate))
	}
	a.engine, err = attendance.New(a.session, store, engineOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "newApp attendance.New")
	}

	a.profiles, err = workers.NewService(a.session, store, workers.WithReporter(a.reporter))
	if err != nil {
		return nil, errors.Wrap(err, "newApp workers.NewService")
	}
	return a, nil
}

// newGate builds a location gate over coordinates given on the command line. Without
// coordinates the gate reports the position as unavailable.
func newGate(cfg config.LocationConfig, lat, lng, accuracy float64, hasPosition bool) *location.Gate {
	if !hasPosition {
		return location.NewGate(nil)
	}
	provider := &location.StaticProvider{
		Position: location.Position{Latitude: lat, Longitude: lng, Accuracy: accuracy},
	}
	return location.NewGate(provider,
		location.WithPermissionQuerier(provider),
		location.WithDefaultTimeout(cfg.GetLocationTimeout()),
	)
}

// resume restores the persisted session and today's records.
func (a *app) resume(ctx context.Context) error {
	if !a.session.IsAuthenticated() && !a.session.RestoreSession(ctx) {
		return errors.New("로그인이 필요합니다. 'attendance login'을 먼저 실행해 주세요.")
	}
	if _, err := a.engine.Restore(); err != nil {
		return err
	}
	return nil
}

func (a *app) sessionExpired() {
	if a.expired {
		return
	}
	a.expired = true
	fmt.Fprintln(a.out, "세션이 만료되었습니다. 'attendance login'으로 다시 로그인해 주세요.")
}

// close flushes pending error reports.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	a.reporter.Close(ctx)
	log.Debug().Msg("client closed")
}
