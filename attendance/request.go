package attendance

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/site-attendance/internal/utils"
	"github.com/jrsteele09/site-attendance/location"
)

const (
	CheckInPath  = "/system/attendance/check-in"
	CheckOutPath = "/system/attendance/check-out"
	TodayPath    = "/system/attendance/today"

	isoMillis  = "2006-01-02T15:04:05.000Z"
	dateLayout = "2006-01-02"
)

type gps struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

func gpsFields(pos *location.Position) gps {
	if pos == nil {
		return gps{}
	}
	return gps{
		Latitude:  utils.Ptr(pos.Latitude),
		Longitude: utils.Ptr(pos.Longitude),
		Accuracy:  utils.PtrIfSet(pos.Accuracy),
	}
}

// CheckInRequest is the body of POST /system/attendance/check-in.
type CheckInRequest struct {
	WorkerID    string `json:"workerId"`
	SiteID      string `json:"siteId"`
	Timestamp   string `json:"timestamp"`   // client clock
	QRTimestamp string `json:"qrTimestamp"` // issuance instant embedded in the QR code
	QRVersion   string `json:"qrVersion,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	gps
}

// CheckOutRequest is the body of POST /system/attendance/check-out.
type CheckOutRequest struct {
	WorkerID     string  `json:"workerId"`
	SiteID       string  `json:"siteId"`
	AttendanceID string  `json:"attendanceId,omitempty"`
	Timestamp    string  `json:"timestamp"`
	WorkHours    float64 `json:"workHours"` // client estimate
	QRTimestamp  string  `json:"qrTimestamp,omitempty"`
	DeviceID     string  `json:"deviceId,omitempty"`
	gps
}

type checkInResponse struct {
	ID              utils.FlexString `json:"id"`
	AttendanceID    utils.FlexString `json:"attendanceId"`
	SiteName        string           `json:"siteName"`
	SiteAddress     string           `json:"siteAddress"`
	ServerTimestamp utils.FlexString `json:"serverTimestamp"`
	CheckInTime     utils.FlexString `json:"checkInTime"`
}

type checkOutResponse struct {
	WorkHours       utils.FlexString `json:"workHours"`
	ServerTimestamp utils.FlexString `json:"serverTimestamp"`
	CheckOutTime    utils.FlexString `json:"checkOutTime"`
}

// serverRecord is one entry of GET /system/attendance/today.
type serverRecord struct {
	ID           utils.FlexString `json:"id"`
	AttendanceID utils.FlexString `json:"attendanceId"`
	SiteID       utils.FlexString `json:"siteId"`
	SiteName     string           `json:"siteName"`
	SiteAddress  string           `json:"siteAddress"`
	CheckInTime  utils.FlexString `json:"checkInTime"`
	CheckOutTime utils.FlexString `json:"checkOutTime"`
	WorkHours    utils.FlexString `json:"workHours"`
	WorkDate     string           `json:"workDate"`
}

type todayResponse struct {
	Records []serverRecord `json:"records"`
}

func formatISO(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// parseTimestamp accepts epoch milliseconds, RFC 3339, or a zone-less local date-time
// interpreted in the site zone.
func parseTimestamp(v utils.FlexString, zone *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(v.String())
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, zone); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, zone); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseHours(v utils.FlexString) (float64, bool) {
	s := strings.TrimSpace(v.String())
	if s == "" {
		return 0, false
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return 0, false
	}
	return h, true
}

// WorkHours is the client estimate: elapsed hours rounded half away from zero to one
// decimal.
func WorkHours(checkIn, checkOut time.Time) float64 {
	elapsed := checkOut.Sub(checkIn)
	if elapsed < 0 {
		return 0
	}
	return roundHours(elapsed.Hours())
}

func roundHours(h float64) float64 {
	return math.Round(h*10) / 10
}
