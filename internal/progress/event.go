// Package progress defines the event structures emitted by crawl runs.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskStart Stage = "TASK_START"
	StagePageDone  Stage = "PAGE_DONE"
	StageTaskDone  Stage = "TASK_DONE"
	StageTaskError Stage = "TASK_ERROR"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// TaskID identifies the task whose run emitted the event.
	TaskID string
	// UID is the crawled user.
	UID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// Page is the 1-based page number for PAGE_DONE events.
	Page int
	// Fetched and Written carry per-page post count deltas.
	Fetched int
	Written int
	// Percent is the coarse completion estimate to surface on the task.
	Percent int
	// Dur captures execution latency for page fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
