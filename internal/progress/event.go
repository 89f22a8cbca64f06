package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageFetchDone   Stage = "FETCH_DONE"
	StageFetchFailed Stage = "FETCH_FAILED"
	StageTaskFailed  Stage = "TASK_FAILED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes recorded for fetch events. StatusError marks attempts that
// produced no usable content.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
	StatusError StatusClass = "error"
)

// Event captures one scheduler milestone.
type Event struct {
	RunID string
	// TS is the time the milestone occurred.
	TS    time.Time
	Stage Stage
	// URL and Site scope fetch and task events.
	URL  string
	Site string
	// Strategy names the fetcher that produced stored content.
	Strategy string
	// Attempt is the 1-based attempt number for fetch and task events.
	Attempt     int
	Bytes       int64
	StatusClass StatusClass
	// Dur is the attempt latency, or the run wall time for RUN_DONE.
	Dur time.Duration
	// Succeeded and Failed carry final counts on RUN_DONE.
	Succeeded int
	Failed    int
	// Note carries low-volume context such as a failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageFetchDone:
		if e.Site == "" || e.URL == "" {
			return errors.New("fetch done requires url and site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageFetchFailed, StageTaskFailed:
		if e.Site == "" || e.URL == "" {
			return fmt.Errorf("%s requires url and site", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
