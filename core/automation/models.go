package automation

import (
	"github.com/cordum/blackboard/core/workflow"
)

// Schedule runs a workflow on a cron trigger. Timezone is the IANA zone the
// cron expression is evaluated in; persisted timestamps are naive UTC.
type Schedule struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Name           string         `json:"name,omitempty"`
	CronExpression string         `json:"cron_expression"`
	Timezone       string         `json:"timezone"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	// BaseDirectory roots relative file and dir inputs when the schedule
	// fires, since no request context exists then.
	BaseDirectory string              `json:"base_directory,omitempty"`
	Enabled       bool                `json:"enabled"`
	LastRunAt     *workflow.NaiveTime `json:"last_run_at,omitempty"`
	LastJobID     string              `json:"last_job_id,omitempty"`
	CreatedAt     workflow.NaiveTime  `json:"created_at"`
	UpdatedAt     workflow.NaiveTime  `json:"updated_at"`
}

func (s *Schedule) clone() *Schedule {
	if s == nil {
		return nil
	}
	out := *s
	if s.Inputs != nil {
		out.Inputs = make(map[string]any, len(s.Inputs))
		for k, v := range s.Inputs {
			out.Inputs[k] = v
		}
	}
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		out.LastRunAt = &t
	}
	return &out
}

// spec is the trigger identity; a change means the cron entry is replaced.
func (s *Schedule) spec() string {
	return s.Timezone + "|" + s.CronExpression
}
