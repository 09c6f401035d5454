package automation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cordum/blackboard/core/infra/locks"
	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/cordum/blackboard/core/infra/metrics"
	"github.com/cordum/blackboard/core/workflow"
)

const (
	logComponent = "scheduler"
	fireLockTTL  = 2 * time.Minute
)

// Trigger is what a fired schedule hands to the dispatch layer.
type Trigger struct {
	ScheduleID    string
	WorkflowID    string
	Inputs        map[string]any
	BaseDirectory string
	FiredAt       time.Time
}

// Dispatcher starts a run for a fired schedule and returns the job id.
type Dispatcher interface {
	DispatchScheduled(ctx context.Context, t Trigger) (string, error)
}

type liveTrigger struct {
	entry cron.EntryID
	gen   uint64
	spec  string
}

// Scheduler keeps the live cron trigger table in step with the schedule
// store. Every CRUD call converges the table before it returns.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	locks      locks.Store
	owner      string
	metrics    metrics.SchedulerMetrics
	checkWF    func(id string) error
	defaultTZ  string
	baseDir    string
	now        func() time.Time

	// mu guards the trigger table and serialises read-modify-write of
	// schedule records.
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]liveTrigger
	gen     uint64
	baseCtx context.Context
}

type Option func(*Scheduler)

// WithLocks claims a fire lock per (schedule, minute) so replicas sharing
// the store never dispatch the same slot twice.
func WithLocks(store locks.Store, owner string) Option {
	return func(s *Scheduler) {
		s.locks = store
		if owner != "" {
			s.owner = owner
		}
	}
}

func WithMetrics(m metrics.SchedulerMetrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithWorkflowCheck rejects schedules whose workflow id is unknown.
func WithWorkflowCheck(check func(id string) error) Option {
	return func(s *Scheduler) { s.checkWF = check }
}

// WithDefaultTimezone is used for schedules created without a timezone.
func WithDefaultTimezone(tz string) Option {
	return func(s *Scheduler) {
		if strings.TrimSpace(tz) != "" {
			s.defaultTZ = tz
		}
	}
}

// WithBaseDirectory sets the root captured as base_directory on Create.
// Client supplied directories must lie inside it. Without this option the
// process working directory is the root.
func WithBaseDirectory(root string) Option {
	return func(s *Scheduler) {
		if strings.TrimSpace(root) == "" {
			return
		}
		if abs, err := filepath.Abs(root); err == nil {
			s.baseDir = abs
		}
	}
}

func New(store Store, dispatcher Dispatcher, opts ...Option) *Scheduler {
	wd, _ := os.Getwd()
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		owner:      uuid.NewString(),
		metrics:    metrics.Noop{},
		defaultTZ:  "UTC",
		baseDir:    wd,
		now:        time.Now,
		entries:    map[string]liveTrigger{},
		baseCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)
	return s
}

// Start loads every schedule into the trigger table and starts firing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	s.cron.Start()
	logging.Info(logComponent, "scheduler started", "triggers", len(s.ActiveIDs()))
	return nil
}

// Stop halts the trigger table and waits for in-flight fires.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logging.Info(logComponent, "scheduler stopped")
}

// Reconcile rebuilds the trigger table from the store. Unchanged triggers
// keep their entries; records that no longer parse are deregistered.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	list, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(list))
	for _, sched := range list {
		seen[sched.ID] = true
		if err := s.applyLocked(sched); err != nil {
			logging.Error(logComponent, "schedule not registered", "schedule_id", sched.ID, "error", err)
			s.removeLocked(sched.ID)
		}
	}
	for id := range s.entries {
		if !seen[id] {
			s.removeLocked(id)
		}
	}
	s.metrics.SetActiveTriggers(len(s.entries))
	return nil
}

func (s *Scheduler) Create(ctx context.Context, in *Schedule) (*Schedule, error) {
	if in == nil {
		return nil, errors.New("schedule required")
	}
	sched := in.clone()
	if err := s.prepare(sched); err != nil {
		return nil, err
	}
	dir, err := s.captureBaseDirectory(sched.BaseDirectory)
	if err != nil {
		return nil, err
	}
	sched.BaseDirectory = dir
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := workflow.NewNaiveTime(s.now())
	sched.CreatedAt, sched.UpdatedAt = now, now
	sched.LastRunAt, sched.LastJobID = nil, ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.store.GetSchedule(ctx, sched.ID); err == nil {
		return nil, fmt.Errorf("schedule %s already exists", sched.ID)
	} else if !errors.Is(err, ErrScheduleNotFound) {
		return nil, err
	}
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	if err := s.applyLocked(sched); err != nil {
		return nil, err
	}
	s.metrics.SetActiveTriggers(len(s.entries))
	logging.Info(logComponent, "schedule created", "schedule_id", sched.ID, "workflow", sched.WorkflowID, "cron", sched.CronExpression, "timezone", sched.Timezone, "enabled", sched.Enabled)
	return sched.clone(), nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

// List returns every schedule, optionally only those of one workflow.
func (s *Scheduler) List(ctx context.Context, workflowID string) ([]*Schedule, error) {
	all, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	if workflowID == "" {
		return all, nil
	}
	out := make([]*Schedule, 0, len(all))
	for _, sched := range all {
		if sched.WorkflowID == workflowID {
			out = append(out, sched)
		}
	}
	return out, nil
}

// Update replaces a schedule's definition. Run history and the base
// directory captured at creation are kept.
func (s *Scheduler) Update(ctx context.Context, in *Schedule) (*Schedule, error) {
	if in == nil || in.ID == "" {
		return nil, errors.New("schedule id required")
	}
	next := in.clone()
	if err := s.prepare(next); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.store.GetSchedule(ctx, next.ID)
	if err != nil {
		return nil, err
	}
	next.CreatedAt = cur.CreatedAt
	next.BaseDirectory = cur.BaseDirectory
	next.LastRunAt, next.LastJobID = cur.LastRunAt, cur.LastJobID
	next.UpdatedAt = workflow.NewNaiveTime(s.now())
	if err := s.store.SaveSchedule(ctx, next); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	if err := s.applyLocked(next); err != nil {
		return nil, err
	}
	s.metrics.SetActiveTriggers(len(s.entries))
	logging.Info(logComponent, "schedule updated", "schedule_id", next.ID, "cron", next.CronExpression, "timezone", next.Timezone, "enabled", next.Enabled)
	return next.clone(), nil
}

// SetEnabled toggles a schedule without touching its definition.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	sched.Enabled = enabled
	sched.UpdatedAt = workflow.NewNaiveTime(s.now())
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}
	if err := s.applyLocked(sched); err != nil {
		return nil, err
	}
	s.metrics.SetActiveTriggers(len(s.entries))
	logging.Info(logComponent, "schedule toggled", "schedule_id", id, "enabled", enabled)
	return sched.clone(), nil
}

func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	s.metrics.SetActiveTriggers(len(s.entries))
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	logging.Info(logComponent, "schedule deleted", "schedule_id", id)
	return nil
}

// NextFire previews the first fire time of a stored schedule after after.
func (s *Scheduler) NextFire(ctx context.Context, id string, after time.Time) (time.Time, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return NextFire(sched.CronExpression, sched.Timezone, after)
}

// ActiveIDs lists schedules with a live trigger.
func (s *Scheduler) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// captureBaseDirectory returns the absolute directory a new schedule roots
// its relative inputs at. Empty means the scheduler's root.
func (s *Scheduler) captureBaseDirectory(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		if s.baseDir == "" {
			return "", fmt.Errorf("%w: no server root configured", ErrInvalidBaseDirectory)
		}
		return s.baseDir, nil
	}
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidBaseDirectory, dir)
	}
	dir = filepath.Clean(dir)
	if s.baseDir != "" {
		rel, err := filepath.Rel(s.baseDir, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q is outside %s", ErrInvalidBaseDirectory, dir, s.baseDir)
		}
	}
	return dir, nil
}

func (s *Scheduler) prepare(sched *Schedule) error {
	sched.WorkflowID = strings.TrimSpace(sched.WorkflowID)
	if sched.WorkflowID == "" {
		return errors.New("workflow id required")
	}
	sched.CronExpression = strings.TrimSpace(sched.CronExpression)
	if strings.TrimSpace(sched.Timezone) == "" {
		sched.Timezone = s.defaultTZ
	}
	if _, err := ParseTrigger(sched.CronExpression, sched.Timezone); err != nil {
		return err
	}
	if s.checkWF != nil {
		if err := s.checkWF(sched.WorkflowID); err != nil {
			return err
		}
	}
	return nil
}

// applyLocked converges one schedule's trigger. The old entry is removed
// before the new one is added, both under mu, and fires carry the
// generation they were registered with.
func (s *Scheduler) applyLocked(sched *Schedule) error {
	cur, exists := s.entries[sched.ID]
	if exists && sched.Enabled && cur.spec == sched.spec() {
		return nil
	}
	var parsed cron.Schedule
	if sched.Enabled {
		var err error
		if parsed, err = ParseTrigger(sched.CronExpression, sched.Timezone); err != nil {
			return err
		}
	}
	if exists {
		s.removeLocked(sched.ID)
	}
	if !sched.Enabled {
		return nil
	}
	s.gen++
	id, gen := sched.ID, s.gen
	entry := s.cron.Schedule(parsed, cron.FuncJob(func() { s.fire(id, gen) }))
	s.entries[id] = liveTrigger{entry: entry, gen: gen, spec: sched.spec()}
	logging.Debug(logComponent, "trigger registered", "schedule_id", id, "generation", gen)
	return nil
}

func (s *Scheduler) removeLocked(id string) {
	cur, ok := s.entries[id]
	if !ok {
		return
	}
	s.cron.Remove(cur.entry)
	delete(s.entries, id)
}

func (s *Scheduler) current(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[id]
	return ok && cur.gen == gen
}

// fire dispatches one trigger slot and records it as the schedule's last run.
func (s *Scheduler) fire(id string, gen uint64) {
	if !s.current(id, gen) {
		s.metrics.IncScheduleFired("stale")
		return
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	firedAt := s.now().UTC().Truncate(time.Minute)

	if s.locks != nil {
		ok, err := s.locks.Acquire(ctx, fireLockResource(id, firedAt), s.owner, fireLockTTL)
		if err != nil {
			logging.Error(logComponent, "fire lock failed", "schedule_id", id, "error", err)
			s.metrics.IncScheduleFired("error")
			return
		}
		if !ok {
			logging.Debug(logComponent, "slot claimed by another instance", "schedule_id", id, "slot", firedAt)
			s.metrics.IncScheduleFired("duplicate")
			return
		}
	}

	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		logging.Error(logComponent, "load schedule failed", "schedule_id", id, "error", err)
		s.metrics.IncScheduleFired("error")
		return
	}
	if !sched.Enabled {
		s.metrics.IncScheduleFired("skipped")
		return
	}
	jobID, err := s.dispatcher.DispatchScheduled(ctx, Trigger{
		ScheduleID:    sched.ID,
		WorkflowID:    sched.WorkflowID,
		Inputs:        sched.Inputs,
		BaseDirectory: sched.BaseDirectory,
		FiredAt:       firedAt,
	})
	if err != nil {
		logging.Error(logComponent, "scheduled dispatch failed", "schedule_id", id, "workflow", sched.WorkflowID, "error", err)
		s.metrics.IncScheduleFired("failed")
		return
	}
	s.recordRun(ctx, id, firedAt, jobID)
	s.metrics.IncScheduleFired("dispatched")
	logging.Info(logComponent, "schedule fired", "schedule_id", id, "workflow", sched.WorkflowID, "job_id", jobID, "slot", firedAt)
}

func (s *Scheduler) recordRun(ctx context.Context, id string, firedAt time.Time, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		logging.Warn(logComponent, "schedule vanished before run was recorded", "schedule_id", id, "error", err)
		return
	}
	ran := workflow.NewNaiveTime(firedAt)
	sched.LastRunAt = &ran
	sched.LastJobID = jobID
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		logging.Warn(logComponent, "record last run failed", "schedule_id", id, "error", err)
	}
}

func fireLockResource(id string, slot time.Time) string {
	return fmt.Sprintf("schedule:%s:%d", id, slot.Unix())
}

// cronLogger routes the cron runtime's logs through the shared logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	logging.Debug("cron", msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	logging.Error("cron", msg, append(kv, "error", err)...)
}
