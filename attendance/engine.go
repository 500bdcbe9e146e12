package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/site-attendance/envelope"
	"github.com/jrsteele09/site-attendance/internal/utils"
	"github.com/jrsteele09/site-attendance/location"
	"github.com/jrsteele09/site-attendance/qr"
	"github.com/jrsteele09/site-attendance/reporter"
	"github.com/jrsteele09/site-attendance/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const deviceIDKey = "id"

// SessionClient is the authenticated transport the engine submits through.
// *session.Manager implements it.
type SessionClient interface {
	WorkerID() string
	AuthorizedFetch(ctx context.Context, method, target string, body []byte) (*http.Response, error)
}

// Locator acquires the device position. *location.Gate implements it.
type Locator interface {
	RequestLocation(ctx context.Context, opts location.Options) (location.Position, error)
}

// CheckInResult is what the UI shows after a successful check-in.
type CheckInResult struct {
	Record          Record
	SiteName        string
	SiteAddress     string
	ServerTimestamp time.Time
}

// CheckOutParams are the optional inputs of a check-out.
type CheckOutParams struct {
	Position *location.Position
	// QR is an optional exit scan. When set it must name the open shift's site.
	QR string
}

// CheckOutResult is what the UI shows after a successful check-out.
type CheckOutResult struct {
	Record          Record
	WorkHours       float64
	Estimated       bool // WorkHours is the client estimate, the server sent none
	ServerTimestamp time.Time
}

// Engine runs the check-in/check-out state machine for the authenticated worker and
// mirrors every successful transition to the attendance cache.
type Engine struct {
	session  SessionClient
	store    storage.Store
	reporter *reporter.Reporter
	gate     Locator
	fixAge   time.Duration
	zone     *time.Location
	deviceID string
	nowFunc  func() time.Time

	mu      sync.Mutex
	workers map[string]*workerState
}

type workerState struct {
	phase   Phase
	date    string
	records []Record
	syncing bool
	synced  bool
}

type EngineOption func(*Engine)

// WithNowFunc overrides the clock used for request timestamps and the current date.
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

// WithReporter sets where failed transitions and cache errors are reported.
func WithReporter(r *reporter.Reporter) EngineOption {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithGate enables CheckInWithGate.
func WithGate(gate Locator) EngineOption {
	return func(e *Engine) {
		e.gate = gate
	}
}

// WithMaximumFixAge lets CheckInWithGate reuse a position fix no older than age.
func WithMaximumFixAge(age time.Duration) EngineOption {
	return func(e *Engine) {
		e.fixAge = age
	}
}

// WithTimeZone sets the zone that decides a record's effective calendar date.
func WithTimeZone(zone *time.Location) EngineOption {
	return func(e *Engine) {
		e.zone = zone
	}
}

// WithDeviceID fixes the device identifier instead of generating and caching one.
func WithDeviceID(id string) EngineOption {
	return func(e *Engine) {
		e.deviceID = id
	}
}

// New creates an Engine. The device id is loaded from the store, or generated and
// stored on first use, unless WithDeviceID fixes it.
func New(session SessionClient, store storage.Store, options ...EngineOption) (*Engine, error) {
	if session == nil {
		return nil, errors.New("[attendance New] session is required")
	}
	if store == nil {
		return nil, errors.New("[attendance New] store is required")
	}

	e := &Engine{
		session: session,
		store:   store,
		workers: make(map[string]*workerState),
	}
	for _, opt := range options {
		opt(e)
	}

	if e.nowFunc == nil {
		e.nowFunc = time.Now
	}
	if e.zone == nil {
		e.zone = time.Local
	}
	if e.deviceID == "" {
		e.deviceID = e.loadDeviceID()
	}
	return e, nil
}

// DeviceID returns the identifier sent with every check-in and check-out.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// CheckIn starts a shift at the site named by the scanned QR code. pos is optional.
// Every failure is a *WorkflowError and leaves the worker checked out.
func (e *Engine) CheckIn(ctx context.Context, qrRaw string, pos *location.Position) (*CheckInResult, error) {
	payload, wfErr := parseQR(qrRaw)
	if wfErr != nil {
		return nil, wfErr
	}

	workerID := e.session.WorkerID()
	if workerID == "" {
		return nil, newWorkflowError(KindNotAuthenticated, nil)
	}

	e.mu.Lock()
	st := e.stateFor(workerID)
	if err := st.guard(PhaseCheckedOut); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	st.phase = PhaseCheckingIn
	e.mu.Unlock()

	now := e.nowFunc()
	req := CheckInRequest{
		WorkerID:    workerID,
		SiteID:      payload.SiteID,
		Timestamp:   formatISO(now),
		QRTimestamp: formatISO(payload.IssuedAt),
		QRVersion:   payload.Version,
		DeviceID:    e.deviceID,
		gps:         gpsFields(pos),
	}

	var resp checkInResponse
	if err := e.call(ctx, http.MethodPost, CheckInPath, req, &resp); err != nil {
		e.revert(st, PhaseCheckedOut)
		return nil, e.fail(CodeCheckInFailed, CheckInPath, workerID, err, "출근 처리에 실패했습니다.")
	}

	serverTime, ok := parseTimestamp(resp.ServerTimestamp, e.zone)
	if !ok {
		serverTime = now
	}
	checkInAt, ok := parseTimestamp(resp.CheckInTime, e.zone)
	if !ok {
		checkInAt = serverTime
	}

	record := Record{
		ID:             utils.FirstNonEmpty(resp.AttendanceID.String(), resp.ID.String()),
		WorkerID:       workerID,
		SiteID:         payload.SiteID,
		SiteName:       resp.SiteName,
		SiteAddress:    resp.SiteAddress,
		CheckInEpochMs: checkInAt.UnixMilli(),
		EffectiveDate:  checkInAt.In(e.zone).Format(dateLayout),
		HasCheckedIn:   true,
	}

	e.mu.Lock()
	st.records = append(st.records, record)
	st.phase = PhaseCheckedIn
	snapshot, current := e.snapshot(workerID, st)
	e.mu.Unlock()

	if current {
		e.persist(snapshot)
	}
	log.Info().Str("worker_id", workerID).Str("site_id", record.SiteID).Str("attendance_id", record.ID).Msg("attendance: checked in")

	return &CheckInResult{
		Record:          record,
		SiteName:        resp.SiteName,
		SiteAddress:     resp.SiteAddress,
		ServerTimestamp: serverTime,
	}, nil
}

// CheckInWithGate acquires the device position before checking in. A permission
// problem aborts with KindPermission and the guidance to fix it; a timeout or an
// unavailable position checks in without GPS fields.
func (e *Engine) CheckInWithGate(ctx context.Context, qrRaw string) (*CheckInResult, error) {
	if _, wfErr := parseQR(qrRaw); wfErr != nil {
		return nil, wfErr
	}

	if workerID := e.session.WorkerID(); workerID != "" {
		e.mu.Lock()
		err := e.stateFor(workerID).guard(PhaseCheckedOut)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	var pos *location.Position
	if e.gate != nil {
		p, err := e.gate.RequestLocation(ctx, location.Options{EnableHighAccuracy: true, MaximumAge: e.fixAge})
		var geoErr *location.GeoError
		switch {
		case err == nil:
			pos = &p
		case errors.As(err, &geoErr) && geoErr.IsPermission():
			return nil, &WorkflowError{Kind: KindPermission, Message: geoErr.Guidance(), Err: err}
		default:
			log.Warn().Err(err).Msg("attendance: checking in without location")
		}
	}
	return e.CheckIn(ctx, qrRaw, pos)
}

// CheckOut closes the worker's open shift. The client work hours estimate is sent
// with the request; a server supplied value replaces it.
func (e *Engine) CheckOut(ctx context.Context, params CheckOutParams) (*CheckOutResult, error) {
	var scanned *qr.Payload
	if params.QR != "" {
		payload, wfErr := parseQR(params.QR)
		if wfErr != nil {
			return nil, wfErr
		}
		scanned = &payload
	}

	workerID := e.session.WorkerID()
	if workerID == "" {
		return nil, newWorkflowError(KindNotAuthenticated, nil)
	}

	e.mu.Lock()
	st := e.stateFor(workerID)
	if err := st.guard(PhaseCheckedIn); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	idx := st.openIndex()
	if idx < 0 {
		e.mu.Unlock()
		return nil, newWorkflowError(KindNotCheckedIn, nil)
	}
	open := st.records[idx]
	if scanned != nil && scanned.SiteID != open.SiteID {
		e.mu.Unlock()
		return nil, &WorkflowError{Kind: KindInvalidQr, Message: "출근한 현장의 QR 코드가 아닙니다.", Err: errors.Errorf("site %s, open shift at %s", scanned.SiteID, open.SiteID)}
	}
	st.phase = PhaseCheckingOut
	e.mu.Unlock()

	now := e.nowFunc()
	estimate := WorkHours(open.CheckIn(), now)
	req := CheckOutRequest{
		WorkerID:     workerID,
		SiteID:       open.SiteID,
		AttendanceID: open.ID,
		Timestamp:    formatISO(now),
		WorkHours:    estimate,
		DeviceID:     e.deviceID,
		gps:          gpsFields(params.Position),
	}
	if scanned != nil {
		req.QRTimestamp = formatISO(scanned.IssuedAt)
	}

	var resp checkOutResponse
	if err := e.call(ctx, http.MethodPost, CheckOutPath, req, &resp); err != nil {
		e.revert(st, PhaseCheckedIn)
		return nil, e.fail(CodeCheckOutFailed, CheckOutPath, workerID, err, "퇴근 처리에 실패했습니다.")
	}

	serverTime, ok := parseTimestamp(resp.ServerTimestamp, e.zone)
	if !ok {
		serverTime = now
	}
	checkOutAt, ok := parseTimestamp(resp.CheckOutTime, e.zone)
	if !ok {
		checkOutAt = serverTime
	}
	hours, fromServer := parseHours(resp.WorkHours)
	if !fromServer {
		hours = estimate
	}

	e.mu.Lock()
	record := st.records[idx]
	record.CheckOutEpochMs = utils.Ptr(checkOutAt.UnixMilli())
	record.WorkHours = utils.Ptr(hours)
	record.HasCheckedOut = true
	st.records[idx] = record
	st.phase = phaseOf(st.records)
	snapshot, current := e.snapshot(workerID, st)
	e.mu.Unlock()

	if current {
		e.persist(snapshot)
	}
	log.Info().Str("worker_id", workerID).Str("site_id", record.SiteID).Float64("work_hours", hours).Msg("attendance: checked out")

	return &CheckOutResult{
		Record:          record,
		WorkHours:       hours,
		Estimated:       !fromServer,
		ServerTimestamp: serverTime,
	}, nil
}

// Status projects today's records of the authenticated worker.
func (e *Engine) Status() (Summary, error) {
	workerID := e.session.WorkerID()
	if workerID == "" {
		return Summary{Status: StatusBeforeWork}, newWorkflowError(KindNotAuthenticated, nil)
	}

	e.mu.Lock()
	st := e.stateFor(workerID)
	records := append([]Record(nil), st.records...)
	e.mu.Unlock()

	return Project(records), nil
}

// Phase returns the workflow state of the authenticated worker.
func (e *Engine) Phase() Phase {
	workerID := e.session.WorkerID()
	if workerID == "" {
		return PhaseCheckedOut
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateFor(workerID).phase
}

// Restore rehydrates today's state of the authenticated worker from the local cache,
// without a network round trip. An operation in flight is left alone.
func (e *Engine) Restore() (Summary, error) {
	workerID := e.session.WorkerID()
	if workerID == "" {
		return Summary{Status: StatusBeforeWork}, newWorkflowError(KindNotAuthenticated, nil)
	}

	e.mu.Lock()
	if st, ok := e.workers[workerID]; ok && !st.busy() {
		delete(e.workers, workerID)
	}
	st := e.stateFor(workerID)
	records := append([]Record(nil), st.records...)
	e.mu.Unlock()

	return Project(records), nil
}

// Sync replaces today's records with the server's. The server is authoritative: local
// entries it does not return are dropped.
func (e *Engine) Sync(ctx context.Context) (Summary, error) {
	workerID := e.session.WorkerID()
	if workerID == "" {
		return Summary{Status: StatusBeforeWork}, newWorkflowError(KindNotAuthenticated, nil)
	}

	e.mu.Lock()
	st := e.stateFor(workerID)
	if st.busy() {
		e.mu.Unlock()
		return Summary{}, newWorkflowError(KindInProgress, nil)
	}
	st.syncing = true
	date := st.date
	e.mu.Unlock()

	query := url.Values{"workerId": {workerID}, "date": {date}}
	target := TodayPath + "?" + query.Encode()

	var raw json.RawMessage
	err := e.call(ctx, http.MethodGet, target, nil, &raw)
	var server []serverRecord
	if err == nil {
		server, err = decodeToday(raw, target)
	}
	if err != nil {
		e.mu.Lock()
		st.syncing = false
		e.mu.Unlock()
		return Summary{}, e.fail(CodeSyncFailed, TodayPath, workerID, err, "출근 기록을 불러오지 못했습니다.")
	}

	records := make([]Record, 0, len(server))
	for _, sr := range server {
		if r, ok := sr.toRecord(workerID, e.zone); ok {
			records = append(records, r)
		}
	}

	e.mu.Lock()
	st.syncing = false
	local := len(st.records)
	st.records = records
	st.phase = phaseOf(records)
	st.synced = true
	snapshot, current := e.snapshot(workerID, st)
	e.mu.Unlock()

	if current {
		e.persist(snapshot)
	}
	log.Debug().Str("worker_id", workerID).Int("local", local).Int("server", len(records)).Msg("attendance: synced")

	return Project(append([]Record(nil), records...)), nil
}

// Reset forgets the in-memory state of every worker. With clearCache the persisted
// records are removed as well, as on logout-with-clear.
func (e *Engine) Reset(clearCache bool) error {
	e.mu.Lock()
	e.workers = make(map[string]*workerState)
	e.mu.Unlock()

	if !clearCache {
		return nil
	}
	if err := e.store.Clear(storage.NamespaceAttendance); err != nil {
		return errors.Wrap(err, "Engine.Reset Clear")
	}
	return nil
}

// stateFor returns the worker's state for today, loading it from the cache on first
// use and on a date change. Open shifts carry over midnight. Callers hold e.mu.
func (e *Engine) stateFor(workerID string) *workerState {
	date := e.today()
	prev, ok := e.workers[workerID]
	if ok && (prev.date == date || prev.busy()) {
		return prev
	}

	cache := e.loadCache(workerID, date)
	st := &workerState{date: date, records: cache.Records, synced: cache.Synced}

	// A shift opened before midnight is still open. Without an in-memory day it
	// comes from the previous day's cache, unless the server already settled today.
	var earlier []Record
	switch {
	case ok:
		earlier = prev.records
	case !cache.Synced:
		earlier = e.loadCache(workerID, e.yesterday()).Records
	}
	carried := 0
	for _, r := range earlier {
		if r.Open() && !containsRecord(st.records, r) {
			st.records = append(st.records, r)
			carried++
		}
	}
	st.phase = phaseOf(st.records)
	e.workers[workerID] = st

	if carried > 0 {
		snapshot, _ := e.snapshot(workerID, st)
		e.persist(snapshot)
	}
	return st
}

func (e *Engine) today() string {
	return e.nowFunc().In(e.zone).Format(dateLayout)
}

func (e *Engine) yesterday() string {
	return e.nowFunc().In(e.zone).AddDate(0, 0, -1).Format(dateLayout)
}

func (e *Engine) revert(st *workerState, phase Phase) {
	e.mu.Lock()
	st.phase = phase
	e.mu.Unlock()
}

// snapshot copies st for persisting. current is false when st was dropped by Reset
// while the request was in flight. Callers hold e.mu.
func (e *Engine) snapshot(workerID string, st *workerState) (dayCache, bool) {
	return dayCache{
		WorkerID:  workerID,
		Date:      st.date,
		Records:   append([]Record(nil), st.records...),
		UpdatedAt: e.nowFunc().UTC(),
		Synced:    st.synced,
	}, e.workers[workerID] == st
}

func (e *Engine) loadCache(workerID, date string) dayCache {
	var cache dayCache
	err := e.store.Get(storage.NamespaceAttendance, cacheKey(workerID, date), &cache)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Err(err).Str("worker_id", workerID).Msg("attendance: failed to read cache")
		e.reporter.Report(CodeCacheReadFailed, err.Error(), &reporter.Extra{Level: reporter.LevelWarn, WorkerID: workerID})
	}
	return cache
}

// persist writes the day's records. A failure here does not undo a transition the
// server already accepted; it is reported as a warning.
func (e *Engine) persist(cache dayCache) {
	if err := e.store.Set(storage.NamespaceAttendance, cacheKey(cache.WorkerID, cache.Date), cache); err != nil {
		log.Err(err).Str("worker_id", cache.WorkerID).Msg("attendance: failed to write cache")
		e.reporter.Report(CodeCacheWriteFailed, err.Error(), &reporter.Extra{Level: reporter.LevelWarn, WorkerID: cache.WorkerID})
	}
}

func (e *Engine) loadDeviceID() string {
	var id string
	if err := e.store.Get(storage.NamespaceDevice, deviceIDKey, &id); err == nil && id != "" {
		return id
	}
	id = uuid.NewString()
	if err := e.store.Set(storage.NamespaceDevice, deviceIDKey, id); err != nil {
		log.Err(err).Msg("attendance: failed to persist device id")
	}
	return id
}

// call submits through the session and decodes the envelope payload into out.
func (e *Engine) call(ctx context.Context, method, target string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "Engine.call Marshal")
		}
		payload = b
	}

	resp, err := e.session.AuthorizedFetch(ctx, method, target, payload)
	if err != nil {
		return err
	}
	status := resp.StatusCode

	env, err := envelope.Read(resp, target)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := env.DecodePayload(out); err != nil {
		return &envelope.RequestError{Kind: envelope.KindInvalidResponse, Endpoint: target, Status: status, Message: "unexpected payload", Err: err}
	}
	return nil
}

// fail converts a call failure into a WorkflowError and reports it. Session expiry is
// already reported by the session manager.
func (e *Engine) fail(code, endpoint, workerID string, err error, fallback string) *WorkflowError {
	wfErr := classify(err, fallback)
	if wfErr.Kind != KindSessionExpired {
		extra := &reporter.Extra{Endpoint: endpoint, WorkerID: workerID}
		var reqErr *envelope.RequestError
		if errors.As(err, &reqErr) {
			extra.HTTPStatus = reqErr.Status
		}
		e.reporter.Report(code, err.Error(), extra)
	}
	log.Warn().Err(err).Str("worker_id", workerID).Str("endpoint", endpoint).Msg("attendance: request failed")
	return wfErr
}

var requestKinds = map[envelope.Kind]Kind{
	envelope.KindNetwork:         KindNetwork,
	envelope.KindHTTP:            KindHTTP,
	envelope.KindApplication:     KindApplication,
	envelope.KindInvalidResponse: KindInvalidResponse,
	envelope.KindSessionExpired:  KindSessionExpired,
}

// classify picks the most specific message the backend supplied, falling back to a
// generic one.
func classify(err error, fallback string) *WorkflowError {
	var reqErr *envelope.RequestError
	if !errors.As(err, &reqErr) {
		return &WorkflowError{Kind: KindInvalidResponse, Message: fallback, Err: err}
	}

	kind, ok := requestKinds[reqErr.Kind]
	if !ok {
		kind = KindInvalidResponse
	}

	message := messages[kind]
	if message == "" && kind != KindInvalidResponse {
		message = reqErr.Message
		if kind == KindHTTP && message == http.StatusText(reqErr.Status) {
			message = ""
		}
	}
	return &WorkflowError{Kind: kind, Message: utils.FirstNonEmpty(message, fallback), Err: err}
}

func parseQR(raw string) (qr.Payload, *WorkflowError) {
	payload, err := qr.Parse(raw)
	if err != nil {
		return qr.Payload{}, newWorkflowError(KindInvalidQr, err)
	}
	if payload.SiteID == "" {
		return qr.Payload{}, newWorkflowError(KindInvalidQr, errors.New("empty site id"))
	}
	return payload, nil
}

func decodeToday(raw json.RawMessage, endpoint string) ([]serverRecord, error) {
	raw = bytes.TrimSpace(raw)
	var records []serverRecord
	var err error
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &records)
	} else {
		var wrapped todayResponse
		err = json.Unmarshal(raw, &wrapped)
		records = wrapped.Records
	}
	if err != nil {
		return nil, &envelope.RequestError{Kind: envelope.KindInvalidResponse, Endpoint: endpoint, Message: "unexpected payload", Err: err}
	}
	return records, nil
}

func (sr serverRecord) toRecord(workerID string, zone *time.Location) (Record, bool) {
	checkIn, ok := parseTimestamp(sr.CheckInTime, zone)
	if !ok {
		return Record{}, false
	}

	r := Record{
		ID:             utils.FirstNonEmpty(sr.AttendanceID.String(), sr.ID.String()),
		WorkerID:       workerID,
		SiteID:         sr.SiteID.String(),
		SiteName:       sr.SiteName,
		SiteAddress:    sr.SiteAddress,
		CheckInEpochMs: checkIn.UnixMilli(),
		EffectiveDate:  utils.FirstNonEmpty(sr.WorkDate, checkIn.In(zone).Format(dateLayout)),
		HasCheckedIn:   true,
	}
	if checkOut, ok := parseTimestamp(sr.CheckOutTime, zone); ok {
		r.CheckOutEpochMs = utils.Ptr(checkOut.UnixMilli())
		r.HasCheckedOut = true
		hours, ok := parseHours(sr.WorkHours)
		if !ok {
			hours = WorkHours(checkIn, checkOut)
		}
		r.WorkHours = utils.Ptr(hours)
	}
	return r, true
}

func (st *workerState) busy() bool {
	return st.phase.Processing() || st.syncing
}

func (st *workerState) guard(want Phase) *WorkflowError {
	switch {
	case st.busy():
		return newWorkflowError(KindInProgress, nil)
	case st.phase == want:
		return nil
	case want == PhaseCheckedOut:
		return newWorkflowError(KindAlreadyCheckedIn, nil)
	default:
		return newWorkflowError(KindNotCheckedIn, nil)
	}
}

func (st *workerState) openIndex() int {
	for i := len(st.records) - 1; i >= 0; i-- {
		if st.records[i].Open() {
			return i
		}
	}
	return -1
}

func phaseOf(records []Record) Phase {
	for _, r := range records {
		if r.Open() {
			return PhaseCheckedIn
		}
	}
	return PhaseCheckedOut
}

func containsRecord(records []Record, r Record) bool {
	for _, existing := range records {
		if existing.ID == r.ID && existing.CheckInEpochMs == r.CheckInEpochMs {
			return true
		}
	}
	return false
}

func cacheKey(workerID, date string) string {
	return workerID + ":" + date
}
