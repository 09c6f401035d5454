package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// InputType enumerates the runtime input types a manifest may declare.
type InputType string

const (
	InputString     InputType = "string"
	InputInt        InputType = "int"
	InputFloat      InputType = "float"
	InputBool       InputType = "bool"
	InputFile       InputType = "file"
	InputDir        InputType = "dir"
	InputStringList InputType = "list[string]"
	InputFileList   InputType = "list[file]"
)

// Valid reports whether t is one of the declared input types.
func (t InputType) Valid() bool {
	switch t {
	case InputString, InputInt, InputFloat, InputBool, InputFile, InputDir, InputStringList, InputFileList:
		return true
	}
	return false
}

// InputDecl declares one runtime input. An input without a default is
// required.
type InputDecl struct {
	Type        InputType `json:"type"`
	Description string    `json:"description,omitempty"`
	Default     any       `json:"default,omitempty"`
}

func (d InputDecl) Required() bool { return d.Default == nil }

// StepDecl is one step of a manifest. Params may hold template strings at
// any depth.
type StepDecl struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	Condition string         `json:"condition,omitempty"`
}

// OutputDecl is one named workflow output.
type OutputDecl struct {
	Description string `json:"description,omitempty"`
	Value       string `json:"value"`
}

// Manifest is an immutable workflow definition.
type Manifest struct {
	ID          string                `json:"id,omitempty"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Version     string                `json:"version,omitempty"`
	Inputs      map[string]InputDecl  `json:"inputs,omitempty"`
	Steps       []StepDecl            `json:"steps"`
	Outputs     map[string]OutputDecl `json:"outputs"`

	compileOnce sync.Once
	compiled    *compiledManifest
	compileErr  error
}

// JobStatus is the lifecycle of a run.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// StepStatus is the lifecycle of one step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Job is the run record. Timestamps are naive UTC.
type Job struct {
	ID           string                `json:"id"`
	WorkflowID   string                `json:"workflow_id"`
	Status       JobStatus             `json:"status"`
	Inputs       map[string]any        `json:"inputs,omitempty"`
	Result       map[string]any        `json:"result,omitempty"`
	StepStatus   map[string]StepStatus `json:"step_status,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	ScheduleID   string                `json:"schedule_id,omitempty"`
	WorkDir      string                `json:"work_dir,omitempty"`
	ArtifactPtr  string                `json:"artifact_ptr,omitempty"`
	// Owner is the engine instance executing the job.
	Owner       string     `json:"owner,omitempty"`
	CreatedAt   NaiveTime  `json:"created_at"`
	UpdatedAt   NaiveTime  `json:"updated_at"`
	StartedAt   *NaiveTime `json:"started_at,omitempty"`
	CompletedAt *NaiveTime `json:"completed_at,omitempty"`
}

const naiveLayout = "2006-01-02T15:04:05.999999"

// NaiveTime is a UTC instant persisted without zone information.
type NaiveTime struct {
	time.Time
}

// NewNaiveTime converts t to UTC at the microsecond precision it is stored
// with, so a value compares equal to itself after a round trip.
func NewNaiveTime(t time.Time) NaiveTime {
	return NaiveTime{Time: t.UTC().Truncate(time.Microsecond)}
}

// NaiveNow is the current time as NaiveTime.
func NaiveNow() NaiveTime { return NewNaiveTime(time.Now()) }

func (t NaiveTime) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(naiveLayout)
}

func (t NaiveTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON reads naive timestamps as UTC. Zoned RFC 3339 values are
// converted.
func (t *NaiveTime) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseNaiveTime(*raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseNaiveTime parses a naive UTC timestamp.
func ParseNaiveTime(s string) (NaiveTime, error) {
	if parsed, err := time.ParseInLocation(naiveLayout, s, time.UTC); err == nil {
		return NaiveTime{Time: parsed}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewNaiveTime(parsed), nil
	}
	return NaiveTime{}, fmt.Errorf("invalid timestamp %q", s)
}
