package automation

import (
	"errors"
	"strings"
	"time"
	_ "time/tzdata" // fire times must not depend on the host zoneinfo

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseTrigger compiles a five-field cron expression evaluated in the named
// IANA timezone.
func ParseTrigger(expr, timezone string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	timezone = strings.TrimSpace(timezone)
	if expr == "" {
		return nil, &SchedulerTriggerError{Cron: expr, Timezone: timezone, Err: errors.New("cron expression required")}
	}
	if strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=") {
		return nil, &SchedulerTriggerError{Cron: expr, Timezone: timezone, Err: errors.New("timezone belongs in the timezone field")}
	}
	if timezone == "" {
		return nil, &SchedulerTriggerError{Cron: expr, Timezone: timezone, Err: errors.New("timezone required")}
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, &SchedulerTriggerError{Cron: expr, Timezone: timezone, Err: err}
	}
	sched, err := cronParser.Parse("CRON_TZ=" + timezone + " " + expr)
	if err != nil {
		return nil, &SchedulerTriggerError{Cron: expr, Timezone: timezone, Err: err}
	}
	return sched, nil
}

// NextFire returns the first fire time strictly after after, in UTC.
func NextFire(expr, timezone string, after time.Time) (time.Time, error) {
	sched, err := ParseTrigger(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, &SchedulerTriggerError{Cron: expr, Timezone: timezone, Err: errors.New("trigger never fires")}
	}
	return next.UTC(), nil
}
