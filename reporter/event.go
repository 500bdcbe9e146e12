package reporter

import "time"

// Level is the severity of a reported event.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
)

// Event is one queued failure. Repeats of the same code inside the dedup window
// collapse into a single Event with an incremented Count.
type Event struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Level      Level     `json:"level"`
	Timestamp  time.Time `json:"timestamp"` // first occurrence
	LastSeen   time.Time `json:"lastSeen"`
	Count      int       `json:"count"`
	Endpoint   string    `json:"endpoint,omitempty"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Stack      string    `json:"stack,omitempty"`
	WorkerID   string    `json:"workerId,omitempty"`
}

// Extra carries optional context for Report. A nil Extra reports at error level.
type Extra struct {
	Level      Level
	Endpoint   string
	HTTPStatus int
	Stack      string
	WorkerID   string
}

// Batch is the body POSTed to the sink.
type Batch struct {
	ID     string    `json:"batchId"`
	SentAt time.Time `json:"sentAt"`
	Events []Event   `json:"events"`
}
