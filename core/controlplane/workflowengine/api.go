package workflowengine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cordum/blackboard/core/automation"
	"github.com/cordum/blackboard/core/infra/artifacts"
	"github.com/cordum/blackboard/core/infra/logging"
	wf "github.com/cordum/blackboard/core/workflow"
)

// api exposes dispatch, job history, catalog reload and schedule CRUD.
type api struct {
	runner      *Runner
	catalog     *wf.Catalog
	jobs        JobStore
	artifacts   artifacts.Store
	scheduler   *automation.Scheduler
	workflowDir string
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows", a.handleListWorkflows)
	mux.HandleFunc("POST /api/v1/workflows/reload", a.handleReloadWorkflows)
	mux.HandleFunc("POST /api/v1/workflows/{id}/runs", a.handleStartRun)
	mux.HandleFunc("GET /api/v1/jobs", a.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", a.handleGetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/events", a.handleListEvents)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", a.handleCancelJob)
	if a.artifacts != nil {
		mux.HandleFunc("GET /api/v1/jobs/{id}/blackboard", a.handleGetBlackboard)
	}
	if a.scheduler != nil {
		mux.HandleFunc("GET /api/v1/schedules", a.handleListSchedules)
		mux.HandleFunc("POST /api/v1/schedules", a.handleCreateSchedule)
		mux.HandleFunc("GET /api/v1/schedules/{id}", a.handleGetSchedule)
		mux.HandleFunc("PUT /api/v1/schedules/{id}", a.handleUpdateSchedule)
		mux.HandleFunc("DELETE /api/v1/schedules/{id}", a.handleDeleteSchedule)
		mux.HandleFunc("POST /api/v1/schedules/{id}/enable", a.handleToggleSchedule(true))
		mux.HandleFunc("POST /api/v1/schedules/{id}/disable", a.handleToggleSchedule(false))
		mux.HandleFunc("GET /api/v1/schedules/{id}/next", a.handleNextFire)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error(logComponent, "encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		inputErr   *wf.InputValidationError
		triggerErr *automation.SchedulerTriggerError
	)
	switch {
	case errors.Is(err, wf.ErrWorkflowNotFound), errors.Is(err, wf.ErrJobNotFound),
		errors.Is(err, automation.ErrScheduleNotFound), errors.Is(err, artifacts.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &inputErr), errors.As(err, &triggerErr),
		errors.Is(err, automation.ErrInvalidBaseDirectory):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request) int64 {
	n, err := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

func (a *api) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	out := []map[string]any{}
	for _, id := range a.catalog.IDs() {
		m, err := a.catalog.Get(id)
		if err != nil {
			continue
		}
		out = append(out, map[string]any{
			"id":          m.ID,
			"name":        m.Name,
			"description": m.Description,
			"version":     m.Version,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleReloadWorkflows(w http.ResponseWriter, r *http.Request) {
	report, err := a.catalog.Reload(a.workflowDir)
	if err != nil {
		writeError(w, err)
		return
	}
	failed := map[string]string{}
	for _, f := range report.Failed {
		failed[f.Path] = f.Err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded": report.Loaded, "failed": failed})
}

func (a *api) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.WorkflowID = r.PathValue("id")
	// Schedules own the schedule link and the server owns the sandbox root;
	// callers set neither.
	req.ScheduleID = ""
	req.SandboxRoot = ""
	job, err := a.runner.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *api) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.jobs.ListJobs(r.Context(), r.URL.Query().Get("workflow_id"), parseLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *api) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *api) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.jobs.GetJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	events, err := a.jobs.ListEvents(r.Context(), id, parseLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleGetBlackboard serves the blackboard archived when the job finished.
func (a *api) handleGetBlackboard(w http.ResponseWriter, r *http.Request) {
	job, err := a.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if job.ArtifactPtr == "" {
		http.Error(w, "no blackboard archived for job", http.StatusNotFound)
		return
	}
	data, meta, err := a.artifacts.Get(r.Context(), job.ArtifactPtr)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("X-Artifact-Digest", meta.Digest)
	w.Header().Set("X-Artifact-Retention", string(meta.Retention))
	_, _ = w.Write(data)
}

func (a *api) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.runner.Cancel(id) {
		http.Error(w, "job not running on this instance", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (a *api) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := a.scheduler.List(r.Context(), r.URL.Query().Get("workflow_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func decodeSchedule(r *http.Request) (*automation.Schedule, error) {
	var s automation.Schedule
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *api) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	in, err := decodeSchedule(r)
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	created, err := a.scheduler.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, wf.ErrWorkflowNotFound) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *api) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := a.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	in, err := decodeSchedule(r)
	if err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	in.ID = r.PathValue("id")
	updated, err := a.scheduler.Update(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *api) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := a.scheduler.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleToggleSchedule(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := a.scheduler.SetEnabled(r.Context(), r.PathValue("id"), enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func (a *api) handleNextFire(w http.ResponseWriter, r *http.Request) {
	after := time.Now()
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "after must be RFC3339", http.StatusBadRequest)
			return
		}
		after = t
	}
	next, err := a.scheduler.NextFire(r.Context(), r.PathValue("id"), after)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next_fire": wf.NewNaiveTime(next).String()})
}
