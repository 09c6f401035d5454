package workflowengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cordum/blackboard/core/automation"
	"github.com/cordum/blackboard/core/infra/bus"
	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/cordum/blackboard/core/infra/secrets"
	wf "github.com/cordum/blackboard/core/workflow"
)

// JobStore is the job persistence the dispatch layer reads and writes.
type JobStore interface {
	wf.JobStore
	GetJob(ctx context.Context, id string) (*wf.Job, error)
	ListJobs(ctx context.Context, workflowID string, limit int64) ([]*wf.Job, error)
	ListEvents(ctx context.Context, jobID string, limit int64) ([]wf.Event, error)
	ListJobIDsByStatus(ctx context.Context, status wf.JobStatus, limit int64) ([]string, error)
}

// Request asks for one run of a catalogued workflow. SandboxRoot is set by
// the server, never decoded from a caller; empty means the runner's root.
type Request struct {
	WorkflowID  string         `json:"workflow_id"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	SandboxRoot string         `json:"-"`
	ScheduleID  string         `json:"schedule_id,omitempty"`
}

// Runner creates jobs and executes them in the background. Each run gets
// its own cancel func so Cancel can stop it at the next step boundary.
type Runner struct {
	engine     *wf.Engine
	catalog    *wf.Catalog
	jobs       JobStore
	instanceID string
	callbacks  []wf.Callback
	sandbox    string
	now        func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	base    context.Context
	stop    context.CancelFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCallbacks subscribes callbacks to every run's events.
func WithCallbacks(callbacks ...wf.Callback) RunnerOption {
	return func(r *Runner) {
		r.callbacks = append(r.callbacks, callbacks...)
	}
}

// WithSandboxRoot roots relative file inputs of requests that carry no root
// of their own.
func WithSandboxRoot(root string) RunnerOption {
	return func(r *Runner) {
		r.sandbox = root
	}
}

func NewRunner(engine *wf.Engine, catalog *wf.Catalog, jobs JobStore, instanceID string, opts ...RunnerOption) *Runner {
	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		engine:     engine,
		catalog:    catalog,
		jobs:       jobs,
		instanceID: instanceID,
		now:        time.Now,
		running:    map[string]context.CancelFunc{},
		base:       base,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch validates the inputs, records a pending job and starts the run.
// Input errors are returned before a job exists.
func (r *Runner) Dispatch(ctx context.Context, req Request) (*wf.Job, error) {
	m, err := r.catalog.Get(req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if req.SandboxRoot == "" {
		req.SandboxRoot = r.sandbox
	}
	if _, err := wf.CoerceInputs(m, req.Inputs, req.SandboxRoot); err != nil {
		return nil, err
	}
	job := &wf.Job{
		ID:         uuid.NewString(),
		WorkflowID: m.ID,
		Status:     wf.JobPending,
		ScheduleID: req.ScheduleID,
		Owner:      r.instanceID,
		CreatedAt:  wf.NewNaiveTime(r.now()),
	}
	job.Inputs, _ = secrets.RedactInputs(req.Inputs)
	job.UpdatedAt = job.CreatedAt
	if r.jobs != nil {
		if err := r.jobs.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("save job: %w", err)
		}
	}
	snapshot := *job

	runCtx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.running[job.ID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()
	logging.Info(logComponent, "run dispatched", "job_id", job.ID, "workflow", job.WorkflowID, "schedule_id", job.ScheduleID)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
			cancel()
		}()
		r.execute(runCtx, m, job, req)
	}()
	return &snapshot, nil
}

func (r *Runner) execute(ctx context.Context, m *wf.Manifest, job *wf.Job, req Request) {
	_, err := r.engine.Run(ctx, m, req.Inputs, wf.RunOptions{Job: job, SandboxRoot: req.SandboxRoot, Callbacks: r.callbacks})
	if err == nil {
		return
	}
	var runErr *wf.RunError
	if errors.As(err, &runErr) {
		return
	}
	// The engine refused to start, so nothing has marked the job yet.
	done := wf.NewNaiveTime(r.now())
	job.Status = wf.JobFailed
	job.ErrorMessage = err.Error()
	job.CompletedAt = &done
	job.UpdatedAt = done
	if r.jobs != nil {
		if err := r.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
			logging.Error(logComponent, "save rejected job failed", "job_id", job.ID, "error", err)
		}
	}
	logging.Warn(logComponent, "run rejected", "job_id", job.ID, "workflow", job.WorkflowID, "error", err)
}

// DispatchScheduled implements automation.Dispatcher. Relative file inputs
// are rooted at the schedule's base directory.
func (r *Runner) DispatchScheduled(ctx context.Context, t automation.Trigger) (string, error) {
	job, err := r.Dispatch(ctx, Request{
		WorkflowID:  t.WorkflowID,
		Inputs:      t.Inputs,
		SandboxRoot: t.BaseDirectory,
		ScheduleID:  t.ScheduleID,
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Cancel asks a local run to stop. It reports false when the job is not
// running on this instance.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
		logging.Info(logComponent, "run cancellation requested", "job_id", jobID)
	}
	return ok
}

// Running lists job ids executing on this instance.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) isLocal(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// Wait blocks until every dispatched run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all runs and waits for them until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventPublisher is the slice of the bus progress events are sent on.
type EventPublisher interface {
	Publish(subject string, fields map[string]any) error
}

// PublishEvents forwards run events to the bus on a per-job subject.
func PublishEvents(pub EventPublisher) wf.Callback {
	return func(evt wf.Event) error {
		return pub.Publish(bus.EventSubject(evt.JobID), evt.ToMap())
	}
}
