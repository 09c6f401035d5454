package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/cordum/blackboard/core/infra/artifacts"
	"github.com/cordum/blackboard/core/infra/logging"
	"github.com/cordum/blackboard/core/infra/metrics"
	"github.com/cordum/blackboard/core/infra/secrets"
	"github.com/cordum/blackboard/core/steps"
	"github.com/cordum/blackboard/core/workspace"
)

const (
	logComponent   = "workflow-engine"
	checkpointFile = "workflow_state.json"
)

// JobStore persists run records and their event timeline.
type JobStore interface {
	SaveJob(ctx context.Context, job *Job) error
	AppendEvent(ctx context.Context, jobID string, evt Event) error
}

// Engine executes validated manifests. One Engine serves many concurrent
// runs; each run owns its blackboard.
type Engine struct {
	registry    *steps.Registry
	agents      steps.AgentFactory
	workspace   *workspace.Manager
	jobs        JobStore
	artifacts   artifacts.Store
	wfMetrics   metrics.WorkflowMetrics
	stepMetrics metrics.StepMetrics
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithAgents(agents steps.AgentFactory) Option { return func(e *Engine) { e.agents = agents } }

func WithWorkspace(ws *workspace.Manager) Option { return func(e *Engine) { e.workspace = ws } }

func WithJobStore(store JobStore) Option { return func(e *Engine) { e.jobs = store } }

// WithArtifacts stores the final blackboard of every run.
func WithArtifacts(store artifacts.Store) Option { return func(e *Engine) { e.artifacts = store } }

func WithMetrics(wf metrics.WorkflowMetrics, st metrics.StepMetrics) Option {
	return func(e *Engine) {
		if wf != nil {
			e.wfMetrics = wf
		}
		if st != nil {
			e.stepMetrics = st
		}
	}
}

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine builds an engine over a step registry.
func NewEngine(registry *steps.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		wfMetrics:   metrics.Noop{},
		stepMetrics: metrics.Noop{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the step registry the engine runs against.
func (e *Engine) Registry() *steps.Registry { return e.registry }

// RunOptions carries per-run settings.
type RunOptions struct {
	// Job is an existing pending record to drive; one is created when nil.
	Job *Job
	// SandboxRoot roots relative file and dir inputs.
	SandboxRoot string
	Callbacks   []Callback
}

// RunResult is what a run produced. On failure Outputs is nil and the
// blackboard holds the steps committed before the failure.
type RunResult struct {
	Job        *Job
	Outputs    map[string]any
	Blackboard *Blackboard
	Workspace  *workspace.JobContext
}

type run struct {
	engine    *Engine
	manifest  *Manifest
	job       *Job
	board     *Blackboard
	jobCtx    *workspace.JobContext
	callbacks []Callback
	seq       int64
	started   time.Time
	storeCtx  context.Context
}

// Run executes m with the supplied inputs. Input errors are returned before
// any event is emitted; failures after that are returned as *RunError with
// the partial result.
func (e *Engine) Run(ctx context.Context, m *Manifest, inputs map[string]any, opts RunOptions) (*RunResult, error) {
	if m == nil {
		return nil, errors.New("manifest required")
	}
	compiled, err := m.compile()
	if err != nil {
		return nil, err
	}
	coerced, err := CoerceInputs(m, inputs, opts.SandboxRoot)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveSecretInputs(coerced)
	if err != nil {
		return nil, err
	}

	job := opts.Job
	if job == nil {
		job = &Job{ID: uuid.NewString(), WorkflowID: workflowID(m), Status: JobPending, CreatedAt: NewNaiveTime(e.now())}
	}
	redacted, _ := secrets.RedactInputs(coerced)
	job.Inputs = redacted
	job.StepStatus = make(map[string]StepStatus, len(m.Steps))
	for _, st := range m.Steps {
		job.StepStatus[st.ID] = StepPending
	}

	r := &run{
		engine:    e,
		manifest:  m,
		job:       job,
		board:     NewBlackboard(resolved),
		callbacks: opts.Callbacks,
		started:   e.now(),
		storeCtx:  context.WithoutCancel(ctx),
	}
	result := &RunResult{Job: job, Blackboard: r.board}

	if e.workspace != nil {
		jobCtx, err := e.workspace.CreateJob(m.Name)
		if err != nil {
			return result, r.fail("", fmt.Errorf("create workspace: %w", err))
		}
		r.jobCtx = jobCtx
		result.Workspace = jobCtx
		job.WorkDir = jobCtx.Root
	}

	startedAt := NewNaiveTime(r.started)
	job.Status = JobRunning
	job.StartedAt = &startedAt
	r.save()
	e.wfMetrics.IncWorkflowStarted(job.WorkflowID)
	logging.Info(logComponent, "run started", "job_id", job.ID, "workflow", job.WorkflowID)
	r.emit(Event{Type: EventStatus, Status: StatusRunning})

	for i, st := range m.Steps {
		if err := ctx.Err(); err != nil {
			return result, r.fail("", fmt.Errorf("%w before step %s: %v", ErrCancelled, st.ID, err))
		}
		if cond := compiled.conditions[i]; cond != nil {
			ok, err := cond.Truth(r.board)
			if err != nil {
				return result, r.fail(st.ID, fmt.Errorf("condition: %w", err))
			}
			if !ok {
				job.StepStatus[st.ID] = StepSkipped
				r.save()
				r.emit(Event{Type: EventLog, StepID: st.ID, Status: string(StepSkipped), Message: fmt.Sprintf("step %s skipped: condition is false", st.ID)})
				e.stepMetrics.IncStepFinished(st.Type, string(StepSkipped))
				continue
			}
		}
		if err := r.runStep(ctx, st, compiled.params[i]); err != nil {
			return result, r.fail(st.ID, err)
		}
	}

	outputs := make(map[string]any, len(compiled.outputs))
	for _, name := range sortedKeys(compiled.outputs) {
		v, err := compiled.outputs[name].Resolve(r.board)
		if err != nil {
			return result, r.fail("", fmt.Errorf("output %s: %w", name, err))
		}
		outputs[name] = v
	}
	result.Outputs = outputs
	r.finish(JobCompleted, outputs, "")
	r.emit(Event{Type: EventStatus, Status: StatusCompleted, Data: outputs})
	logging.Info(logComponent, "run completed", "job_id", job.ID, "workflow", job.WorkflowID)
	return result, nil
}

func (r *run) runStep(ctx context.Context, st StepDecl, paramsTree any) error {
	e := r.engine
	impl, ok := e.registry.Lookup(st.Type)
	if !ok {
		return &StepExecutionError{StepID: st.ID, StepType: st.Type, Err: fmt.Errorf("unknown step type %q", st.Type)}
	}
	resolved, err := resolveTree(paramsTree, r.board)
	if err != nil {
		return err
	}
	params, _ := resolved.(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	prepared, err := e.registry.PrepareParams(st.Type, params)
	if err != nil {
		return &ParamsValidationError{StepID: st.ID, Err: err}
	}

	r.job.StepStatus[st.ID] = StepRunning
	r.save()
	r.emit(Event{Type: EventStepStart, StepID: st.ID, Data: map[string]any{"step_id": st.ID}})

	began := e.now()
	env := steps.Env{
		StepID: st.ID,
		Job:    r.jobCtx,
		Agents: e.agents,
		Log: func(msg string) {
			r.emit(Event{Type: EventLog, StepID: st.ID, Message: msg})
		},
	}
	out, err := invokeStep(ctx, impl, env, prepared)
	e.stepMetrics.ObserveStepDuration(st.Type, e.now().Sub(began).Seconds())
	if err != nil {
		return &StepExecutionError{StepID: st.ID, StepType: st.Type, Err: err}
	}
	record, err := steps.ToMap(out)
	if err != nil {
		return &StepExecutionError{StepID: st.ID, StepType: st.Type, Err: err}
	}
	if err := e.registry.ValidateOutput(st.Type, record); err != nil {
		return &StepExecutionError{StepID: st.ID, StepType: st.Type, Err: fmt.Errorf("output: %w", err)}
	}
	if err := r.board.Commit(st.ID, record); err != nil {
		return &StepExecutionError{StepID: st.ID, StepType: st.Type, Err: err}
	}
	r.checkpoint()

	r.job.StepStatus[st.ID] = StepCompleted
	r.save()
	e.stepMetrics.IncStepFinished(st.Type, string(StepCompleted))
	r.emit(Event{Type: EventStepCompleted, StepID: st.ID, Data: map[string]any{"step_id": st.ID}})
	return nil
}

// invokeStep runs a step and turns panics into errors.
func invokeStep(ctx context.Context, impl steps.Step, env steps.Env, params map[string]any) (out steps.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(logComponent, "step panicked", "step_id", env.StepID, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	out, err = impl.Run(ctx, env, params)
	if err == nil && (out == nil || out.Base() == nil) {
		err = errors.New("step returned no output")
	}
	return out, err
}

// fail marks the run failed and emits the failure events. stepID is empty
// when the failure is not attributable to a step.
func (r *run) fail(stepID string, cause error) error {
	e := r.engine
	if stepID != "" {
		r.job.StepStatus[stepID] = StepFailed
		stepType := ""
		for _, st := range r.manifest.Steps {
			if st.ID == stepID {
				stepType = st.Type
			}
		}
		e.stepMetrics.IncStepFinished(stepType, string(StepFailed))
	}
	r.finish(JobFailed, nil, cause.Error())
	if stepID != "" {
		r.emit(Event{Type: EventStepFailed, StepID: stepID, Message: cause.Error(), Data: map[string]any{"step_id": stepID}})
	}
	r.emit(Event{Type: EventError, StepID: stepID, Message: cause.Error()})
	r.emit(Event{Type: EventStatus, Status: StatusFailed, Message: cause.Error()})
	logging.Error(logComponent, "run failed", "job_id", r.job.ID, "workflow", r.job.WorkflowID, "step_id", stepID, "error", cause)
	return &RunError{JobID: r.job.ID, StepID: stepID, Err: cause}
}

func (r *run) finish(status JobStatus, outputs map[string]any, message string) {
	e := r.engine
	done := NewNaiveTime(e.now())
	r.job.Status = status
	r.job.Result = outputs
	r.job.ErrorMessage = message
	r.job.CompletedAt = &done
	r.storeArtifact(status)
	r.save()
	e.wfMetrics.IncWorkflowCompleted(r.job.WorkflowID, string(status))
	e.wfMetrics.ObserveWorkflowDuration(r.job.WorkflowID, e.now().Sub(r.started).Seconds())
}

func (r *run) emit(evt Event) {
	r.seq++
	evt.Seq = r.seq
	evt.JobID = r.job.ID
	if evt.Time.IsZero() {
		evt.Time = NewNaiveTime(r.engine.now())
	}
	if r.engine.jobs != nil {
		if err := r.engine.jobs.AppendEvent(r.storeCtx, r.job.ID, evt); err != nil {
			logging.Warn(logComponent, "append event failed", "job_id", r.job.ID, "error", err)
		}
	}
	for _, cb := range r.callbacks {
		if cb != nil {
			invokeCallback(cb, evt)
		}
	}
}

func (r *run) save() {
	r.job.UpdatedAt = NewNaiveTime(r.engine.now())
	if r.engine.jobs == nil {
		return
	}
	if err := r.engine.jobs.SaveJob(r.storeCtx, r.job); err != nil {
		logging.Warn(logComponent, "save job failed", "job_id", r.job.ID, "error", err)
	}
}

// checkpoint writes the blackboard to internal/workflow_state.json.
func (r *run) checkpoint() {
	if r.jobCtx == nil {
		return
	}
	data, err := json.MarshalIndent(r.board, "", "  ")
	if err != nil {
		logging.Warn(logComponent, "checkpoint encode failed", "job_id", r.job.ID, "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(r.jobCtx.Internal, checkpointFile), data, 0o644); err != nil {
		logging.Warn(logComponent, "checkpoint write failed", "job_id", r.job.ID, "error", err)
	}
}

// storeArtifact keeps the final blackboard. Failed runs use audit retention.
func (r *run) storeArtifact(status JobStatus) {
	if r.engine.artifacts == nil {
		return
	}
	data, err := json.Marshal(r.board)
	if err != nil {
		logging.Warn(logComponent, "artifact encode failed", "job_id", r.job.ID, "error", err)
		return
	}
	retention := artifacts.RetentionStandard
	if status == JobFailed {
		retention = artifacts.RetentionAudit
	}
	ptr, err := r.engine.artifacts.Put(r.storeCtx, data, artifacts.Metadata{
		JobID:       r.job.ID,
		WorkflowID:  r.job.WorkflowID,
		Kind:        "blackboard",
		ContentType: "application/json",
		Retention:   retention,
	})
	if err != nil {
		logging.Warn(logComponent, "artifact store failed", "job_id", r.job.ID, "error", err)
		return
	}
	r.job.ArtifactPtr = ptr
}

func resolveSecretInputs(inputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for name, v := range inputs {
		s, ok := v.(string)
		if !ok || !secrets.IsRef(s) {
			out[name] = v
			continue
		}
		resolved, err := secrets.Resolve(s)
		if err != nil {
			return nil, &InputValidationError{Input: name, Msg: err.Error()}
		}
		out[name] = resolved
	}
	return out, nil
}

func workflowID(m *Manifest) string {
	if m.ID != "" {
		return m.ID
	}
	return workspace.Slugify(m.Name)
}
