package attendance

import "time"

// Record is one check-in/check-out cycle of a worker on a calendar day.
// HasCheckedOut implies HasCheckedIn, and CheckOutEpochMs is set iff HasCheckedOut.
type Record struct {
	ID              string   `json:"id,omitempty"` // server assigned
	WorkerID        string   `json:"workerId"`
	SiteID          string   `json:"siteId"`
	SiteName        string   `json:"siteName,omitempty"`
	SiteAddress     string   `json:"siteAddress,omitempty"`
	CheckInEpochMs  int64    `json:"checkInEpochMs"`
	CheckOutEpochMs *int64   `json:"checkOutEpochMs,omitempty"`
	WorkHours       *float64 `json:"workHours,omitempty"`
	EffectiveDate   string   `json:"effectiveDate"` // site-local YYYY-MM-DD
	HasCheckedIn    bool     `json:"hasCheckedIn"`
	HasCheckedOut   bool     `json:"hasCheckedOut"`
}

// Open reports whether the record is an open shift.
func (r Record) Open() bool {
	return r.HasCheckedIn && !r.HasCheckedOut
}

func (r Record) CheckIn() time.Time {
	return time.UnixMilli(r.CheckInEpochMs)
}

func (r Record) CheckOut() (time.Time, bool) {
	if r.CheckOutEpochMs == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*r.CheckOutEpochMs), true
}

// Phase is the per-worker workflow state. The two processing phases tell which
// operation is in flight.
type Phase string

const (
	PhaseCheckedOut  Phase = "checked_out"
	PhaseCheckingIn  Phase = "processing_check_in"
	PhaseCheckedIn   Phase = "checked_in"
	PhaseCheckingOut Phase = "processing_check_out"
)

func (p Phase) Processing() bool {
	return p == PhaseCheckingIn || p == PhaseCheckingOut
}

// dayCache is the persisted form of a worker's records for one site-local date.
type dayCache struct {
	WorkerID  string    `json:"workerId"`
	Date      string    `json:"date"`
	Records   []Record  `json:"records"`
	UpdatedAt time.Time `json:"updatedAt"`
	Synced    bool      `json:"synced,omitempty"` // replaced from the server at least once
}
