package workflow

import (
	"fmt"

	"github.com/cordum/blackboard/core/infra/logging"
)

// EventType names a progress event.
type EventType string

const (
	EventStepStart     EventType = "step_start"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventLog           EventType = "log"
	EventError         EventType = "error"
	EventStatus        EventType = "status"
)

// Run status values carried by status events.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Event is one progress notification of a run. Seq increases by one per
// event within a run.
type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"job_id"`
	StepID  string    `json:"step_id,omitempty"`
	Message string    `json:"message,omitempty"`
	Status  string    `json:"status,omitempty"`
	Data    any       `json:"data,omitempty"`
	Seq     int64     `json:"seq"`
	Time    NaiveTime `json:"time"`
}

// Callback observes run events. Callbacks run synchronously in emission
// order; errors and panics are logged and never affect the run.
type Callback func(Event) error

func invokeCallback(cb Callback, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("workflow-engine", "event callback panicked", "job_id", evt.JobID, "event", string(evt.Type), "panic", fmt.Sprint(r))
		}
	}()
	if err := cb(evt); err != nil {
		logging.Warn("workflow-engine", "event callback failed", "job_id", evt.JobID, "event", string(evt.Type), "error", err)
	}
}

// ToMap renders an event for transports that carry generic maps.
func (e Event) ToMap() map[string]any {
	m := map[string]any{
		"type":   string(e.Type),
		"job_id": e.JobID,
		"seq":    e.Seq,
		"time":   e.Time.String(),
	}
	if e.StepID != "" {
		m["step_id"] = e.StepID
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	if e.Status != "" {
		m["status"] = e.Status
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	return m
}
