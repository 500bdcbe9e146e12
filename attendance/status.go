package attendance

import "github.com/jrsteele09/site-attendance/internal/utils"

// DerivedStatus is the display status of a worker for the day.
type DerivedStatus string

const (
	StatusBeforeWork DerivedStatus = "출근 전"
	StatusWorking    DerivedStatus = "근무 중"
	StatusFinished   DerivedStatus = "퇴근 완료"
)

// Summary is the projection of a day's records.
type Summary struct {
	Status         DerivedStatus
	CurrentOpen    *Record // set only while working
	CompletedCount int
	Records        []Record
}

// Project computes the derived status of a day's records. It is pure: "근무 중" iff
// exactly one record is an open shift, otherwise "퇴근 완료" once any shift has been
// completed and "출근 전" before that.
func Project(records []Record) Summary {
	s := Summary{Records: records}

	var open []int
	for i, r := range records {
		switch {
		case r.Open():
			open = append(open, i)
		case r.HasCheckedIn && r.HasCheckedOut:
			s.CompletedCount++
		}
	}

	switch {
	case len(open) == 1:
		s.Status = StatusWorking
		current := records[open[0]]
		s.CurrentOpen = &current
	case s.CompletedCount > 0:
		s.Status = StatusFinished
	default:
		s.Status = StatusBeforeWork
	}
	return s
}

// TotalWorkHours sums the work hours of completed records.
func (s Summary) TotalWorkHours() float64 {
	var total float64
	for _, r := range s.Records {
		if r.HasCheckedOut {
			total += utils.Value(r.WorkHours)
		}
	}
	return roundHours(total)
}
