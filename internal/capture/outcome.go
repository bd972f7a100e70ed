package capture

import (
	"encoding/json"
	"time"

	"github.com/aseven02/streamget/internal/douyin"
)

// Status is the terminal classification of one capture session.
type Status string

const (
	StatusCompleted        Status = "COMPLETED"
	StatusNotLive          Status = "NOT_LIVE"
	StatusResolutionFailed Status = "RESOLUTION_FAILED"
	StatusCaptureFailed    Status = "CAPTURE_FAILED"
	StatusInterrupted      Status = "INTERRUPTED"
)

// Failure reports whether the status counts against the run. An
// interrupted capture keeps its partial file and is acceptable.
func (s Status) Failure() bool {
	switch s {
	case StatusCompleted, StatusInterrupted:
		return false
	}
	return true
}

// Request describes one capture session. Built once at fan-out time and
// immutable afterwards.
type Request struct {
	Quality    douyin.Quality
	URL        string
	OutputPath string
	Format     Format
	// DurationSec caps the recording via the tool's own limit flag; zero
	// means record until the stream ends or the run is cancelled.
	DurationSec int
}

// Outcome is the per-quality result reported to the caller. Exactly one
// exists per requested quality, whatever path the session took.
type Outcome struct {
	Quality      douyin.Quality `json:"quality"`
	Status       Status         `json:"status"`
	OutputPath   string         `json:"output_path,omitempty"`
	BytesWritten int64          `json:"bytes_written,omitempty"`
	// ErrorDetail is a bounded diagnostic for failed sessions.
	ErrorDetail string        `json:"error_detail,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"-"`
}

// MarshalJSON exposes the elapsed time in milliseconds. A Duration field
// would serialize as raw nanoseconds.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		ElapsedMS int64 `json:"elapsed_ms"`
	}{plain(o), o.Elapsed.Milliseconds()})
}
