package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultQueueSize     = 50
	defaultDedupWindow   = 60 * time.Second
	defaultFlushInterval = 10 * time.Second
	defaultFlushTimeout  = 5 * time.Second
)

// Reporter collects failure events, deduplicates them by code and flushes them in
// batches to a remote sink. It never returns errors and never panics; a nil *Reporter
// is a valid no-op.
type Reporter struct {
	mu    sync.Mutex
	queue []*Event
	index map[string]*Event // code -> event still inside the dedup window

	endpoint      string
	client        *http.Client
	queueSize     int
	dedupWindow   time.Duration
	flushInterval time.Duration
	production    bool
	hiddenLimiter *rate.Limiter
	nowFunc       func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Reporter)

// WithNowFunc overrides the clock used for timestamps and the dedup window.
func WithNowFunc(now func() time.Time) Option {
	return func(r *Reporter) {
		r.nowFunc = now
	}
}

// WithHTTPClient sets the client used to deliver batches to the sink.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Reporter) {
		r.client = client
	}
}

// WithQueueSize caps the pending queue. The oldest event is evicted when it is full.
func WithQueueSize(size int) Option {
	return func(r *Reporter) {
		r.queueSize = size
	}
}

// WithDedupWindow sets how long repeats of the same code are folded into one event.
func WithDedupWindow(window time.Duration) Option {
	return func(r *Reporter) {
		r.dedupWindow = window
	}
}

// WithFlushInterval sets the period of the background flush.
func WithFlushInterval(interval time.Duration) Option {
	return func(r *Reporter) {
		r.flushInterval = interval
	}
}

// WithProduction disables the diagnostic console echo.
func WithProduction(production bool) Option {
	return func(r *Reporter) {
		r.production = production
	}
}

// WithHiddenFlushLimit bounds how often NotifyHidden may trigger a flush.
func WithHiddenFlushLimit(every time.Duration, burst int) Option {
	return func(r *Reporter) {
		r.hiddenLimiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// New creates a Reporter. Nothing is sent until Configure supplies an endpoint.
func New(options ...Option) *Reporter {
	r := &Reporter{
		index: make(map[string]*Event),
	}
	for _, opt := range options {
		opt(r)
	}

	if r.queueSize <= 0 {
		r.queueSize = defaultQueueSize
	}
	if r.dedupWindow <= 0 {
		r.dedupWindow = defaultDedupWindow
	}
	if r.flushInterval <= 0 {
		r.flushInterval = defaultFlushInterval
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: defaultFlushTimeout}
	}
	if r.hiddenLimiter == nil {
		r.hiddenLimiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	if r.nowFunc == nil {
		r.nowFunc = time.Now
	}
	return r
}

// Configure sets the sink and starts the periodic flush. Calling it again only
// replaces the endpoint.
func (r *Reporter) Configure(endpoint string) {
	if r == nil || endpoint == "" {
		return
	}

	r.mu.Lock()
	r.endpoint = endpoint
	start := r.stop == nil
	if start {
		r.stop = make(chan struct{})
		r.done = make(chan struct{})
	}
	r.mu.Unlock()

	if start {
		go r.loop()
	}
}

// Configured reports whether a sink has been supplied.
func (r *Reporter) Configured() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint != ""
}

// Report records a failure. A repeat of code within the dedup window increments the
// existing entry; otherwise a new entry is queued, evicting the oldest when full.
func (r *Reporter) Report(code, message string, extra *Extra) {
	if r == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("reporter: recovered in Report")
		}
	}()

	now := r.nowFunc()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.index[code]; ok && now.Sub(existing.Timestamp) < r.dedupWindow {
		existing.Count++
		existing.LastSeen = now
		return
	}

	ev := &Event{
		ID:        uuid.NewString(),
		Code:      code,
		Message:   message,
		Level:     LevelError,
		Timestamp: now,
		LastSeen:  now,
		Count:     1,
	}
	if extra != nil {
		if extra.Level != "" {
			ev.Level = extra.Level
		}
		ev.Endpoint = extra.Endpoint
		ev.HTTPStatus = extra.HTTPStatus
		ev.Stack = extra.Stack
		ev.WorkerID = extra.WorkerID
	}

	if len(r.queue) >= r.queueSize {
		evicted := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		if r.index[evicted.Code] == evicted {
			delete(r.index, evicted.Code)
		}
	}
	r.queue = append(r.queue, ev)
	r.index[code] = ev

	if !r.production {
		logger := log.Warn()
		if ev.Level == LevelError {
			logger = log.Error()
		}
		logger.Str("code", code).Str("endpoint", ev.Endpoint).Int("http_status", ev.HTTPStatus).Msg(message)
	}
}

// Pending returns a snapshot of queued events, oldest first.
func (r *Reporter) Pending() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, 0, len(r.queue))
	for _, ev := range r.queue {
		events = append(events, *ev)
	}
	return events
}

// Flush drains the queue and POSTs it as one batch. Events reported while the request
// is in flight go to the next batch. Failures are logged and dropped. Without a
// configured sink nothing is drained.
func (r *Reporter) Flush(ctx context.Context) {
	if r == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("reporter: recovered in Flush")
		}
	}()

	r.mu.Lock()
	endpoint := r.endpoint
	if endpoint == "" || len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	drained := r.queue
	r.queue = nil
	r.index = make(map[string]*Event)
	r.mu.Unlock()

	batch := Batch{
		ID:     uuid.NewString(),
		SentAt: r.nowFunc(),
		Events: make([]Event, 0, len(drained)),
	}
	for _, ev := range drained {
		batch.Events = append(batch.Events, *ev)
	}

	r.send(ctx, endpoint, batch)
}

func (r *Reporter) send(ctx context.Context, endpoint string, batch Batch) {
	body, err := json.Marshal(batch)
	if err != nil {
		log.Debug().Err(err).Msg("reporter: marshal batch")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("reporter: build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Int("events", len(batch.Events)).Msg("reporter: flush failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug().Int("status", resp.StatusCode).Int("events", len(batch.Events)).Msg("reporter: sink rejected batch")
	}
}

// NotifyHidden is the page-hidden trigger. It flushes unless throttled and reports
// whether a flush was attempted.
func (r *Reporter) NotifyHidden(ctx context.Context) bool {
	if r == nil || !r.hiddenLimiter.Allow() {
		return false
	}
	r.Flush(ctx)
	return true
}

// Close stops the periodic flush and sends whatever is still queued.
func (r *Reporter) Close(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.mu.Unlock()

	if stop != nil {
		r.stopOnce.Do(func() { close(stop) })
		<-done
	}
	r.Flush(ctx)
}

func (r *Reporter) loop() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
			r.Flush(ctx)
			cancel()
		}
	}
}
