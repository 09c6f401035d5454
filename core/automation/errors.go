package automation

import (
	"errors"
	"fmt"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrInvalidBaseDirectory rejects a base directory that is relative or
	// outside the scheduler's root.
	ErrInvalidBaseDirectory = errors.New("invalid base directory")
)

// SchedulerTriggerError reports a cron expression or timezone that cannot be
// turned into a trigger.
type SchedulerTriggerError struct {
	Cron     string
	Timezone string
	Err      error
}

func (e *SchedulerTriggerError) Error() string {
	return fmt.Sprintf("invalid trigger %q in %q: %v", e.Cron, e.Timezone, e.Err)
}

func (e *SchedulerTriggerError) Unwrap() error { return e.Err }
