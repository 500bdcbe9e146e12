package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

// Gate wraps a Provider, bounds every request with a timeout and disambiguates the
// host's single "permission denied" code into a site permission problem or a
// device-wide location services problem.
type Gate struct {
	provider       Provider
	permissions    PermissionQuerier
	defaultTimeout time.Duration

	mu   sync.Mutex
	last *Position
}

type GateOption func(*Gate)

// WithPermissionQuerier enables telling a site denial apart from disabled location services.
func WithPermissionQuerier(q PermissionQuerier) GateOption {
	return func(g *Gate) {
		g.permissions = q
	}
}

// WithDefaultTimeout applies when a request does not set its own timeout.
func WithDefaultTimeout(timeout time.Duration) GateOption {
	return func(g *Gate) {
		g.defaultTimeout = timeout
	}
}

// NewGate wraps provider. A nil provider makes every request fail as unavailable.
func NewGate(provider Provider, options ...GateOption) *Gate {
	g := &Gate{provider: provider}
	for _, opt := range options {
		opt(g)
	}
	if g.defaultTimeout <= 0 {
		g.defaultTimeout = defaultTimeout
	}
	return g
}

type positionResult struct {
	pos Position
	err error
}

// RequestLocation returns a fix or a *GeoError. It never blocks past the timeout,
// even if the provider ignores context cancellation.
func (g *Gate) RequestLocation(ctx context.Context, opts Options) (Position, error) {
	if g == nil || g.provider == nil {
		return Position{}, &GeoError{Kind: KindUnavailable, Err: errors.New("geolocation not supported")}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = g.defaultTimeout
	}
	if pos, ok := g.cached(opts.MaximumAge); ok {
		return pos, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	results := make(chan positionResult, 1)
	go func() {
		pos, err := g.provider.CurrentPosition(reqCtx, opts)
		results <- positionResult{pos: pos, err: err}
	}()

	var res positionResult
	select {
	case res = <-results:
	case <-reqCtx.Done():
		if ctx.Err() != nil {
			return Position{}, &GeoError{Kind: KindUnavailable, Err: ctx.Err()}
		}
		return Position{}, &GeoError{Kind: KindTimeout, Err: reqCtx.Err()}
	}

	if res.err == nil {
		if res.pos.Timestamp.IsZero() {
			res.pos.Timestamp = time.Now()
		}
		g.remember(res.pos)
		return res.pos, nil
	}
	return Position{}, g.classify(ctx, reqCtx, res.err)
}

// cached returns the last fix when it is no older than maxAge.
func (g *Gate) cached(maxAge time.Duration) (Position, bool) {
	if maxAge <= 0 {
		return Position{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil || time.Since(g.last.Timestamp) > maxAge {
		return Position{}, false
	}
	return *g.last, true
}

func (g *Gate) remember(pos Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = &pos
}

// classify maps a provider failure to a GeoError. reqCtx bounds any follow-up query
// so the whole request still resolves within its timeout.
func (g *Gate) classify(ctx, reqCtx context.Context, err error) error {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return &GeoError{Kind: KindTimeout, Err: err}
		}
		return &GeoError{Kind: KindUnavailable, Err: err}
	}

	switch devErr.Code {
	case DeviceTimeout:
		return &GeoError{Kind: KindTimeout, Err: err}
	case DevicePositionUnavailable:
		return &GeoError{Kind: KindUnavailable, Err: err}
	case DevicePermissionDenied:
		kind, qErr := g.disambiguateDenial(reqCtx)
		if qErr != nil {
			if ctx.Err() != nil {
				return &GeoError{Kind: KindUnavailable, Err: ctx.Err()}
			}
			return &GeoError{Kind: KindTimeout, Err: qErr}
		}
		log.Debug().Str("kind", string(kind)).Msg("location: permission denial classified")
		return &GeoError{Kind: kind, Err: err}
	default:
		return &GeoError{Kind: KindUnavailable, Err: err}
	}
}

type permissionResult struct {
	state PermissionState
	err   error
}

// disambiguateDenial queries the site permission. A site that is allowed but still
// denied means the device location service is off. The error is non-nil only when
// ctx ends before the host answers.
func (g *Gate) disambiguateDenial(ctx context.Context) (Kind, error) {
	if g.permissions == nil {
		return KindPermissionDenied, nil
	}

	results := make(chan permissionResult, 1)
	go func() {
		state, err := g.permissions.QueryPermission(ctx)
		results <- permissionResult{state: state, err: err}
	}()

	var res permissionResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if res.err != nil {
		return KindPermissionDenied, nil
	}
	switch res.state {
	case PermissionGranted, PermissionPrompt:
		return KindSystemServicesDisabled, nil
	default:
		return KindPermissionDenied, nil
	}
}
