package workflowengine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cordum/blackboard/core/automation"
	wf "github.com/cordum/blackboard/core/workflow"
)

func newTestAPI(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	sched := automation.New(automation.NewRedisStoreWithClient(f.client), f.runner,
		automation.WithBaseDirectory(f.sandbox),
		automation.WithWorkflowCheck(func(id string) error {
			_, err := f.catalog.Get(id)
			return err
		}),
	)
	mux := http.NewServeMux()
	(&api{runner: f.runner, catalog: f.catalog, jobs: f.jobs, artifacts: f.arts, scheduler: sched, workflowDir: t.TempDir()}).routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestAPIStartRunAndReadJob(t *testing.T) {
	f, srv := newTestAPI(t)

	var workflows []map[string]any
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/workflows", "", &workflows); code != http.StatusOK || len(workflows) != 2 {
		t.Fatalf("list workflows %d %v", code, workflows)
	}

	var job wf.Job
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/echo/runs", `{"inputs":{"topic":"hi"},"schedule_id":"forged","sandbox_root":"/etc"}`, &job)
	if code != http.StatusAccepted || job.ID == "" || job.ScheduleID != "" {
		t.Fatalf("start run %d %+v", code, job)
	}
	f.runner.Wait()

	var saved wf.Job
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID, "", &saved); code != http.StatusOK || saved.Status != wf.JobCompleted {
		t.Fatalf("get job %d %+v", code, saved)
	}
	if saved.Result["notes"] != filepath.Join(f.sandbox, "notes.md") {
		t.Fatalf("caller sandbox_root must be ignored: %v", saved.Result["notes"])
	}
	var events []wf.Event
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/events", "", &events); code != http.StatusOK || len(events) != 4 {
		t.Fatalf("events %d %+v", code, events)
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/blackboard")
	if err != nil {
		t.Fatalf("blackboard: %v", err)
	}
	var board map[string]map[string]any
	err = json.NewDecoder(resp.Body).Decode(&board)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || board["inputs"]["topic"] != "hi" || resp.Header.Get("X-Artifact-Digest") == "" {
		t.Fatalf("blackboard %d %v %v", resp.StatusCode, board, err)
	}

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/v1/workflows/echo/runs", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/workflows/missing/runs", `{}`, http.StatusNotFound},
		{http.MethodPost, "/api/v1/workflows/echo/runs", `{bad`, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/jobs/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/missing/blackboard", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/jobs/" + job.ID + "/cancel", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := doJSON(t, tc.method, srv.URL+tc.path, tc.body, nil); got != tc.want {
			t.Fatalf("%s %s = %d want %d", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestAPIScheduleLifecycle(t *testing.T) {
	f, srv := newTestAPI(t)

	var created automation.Schedule
	body := `{"workflow_id":"echo","cron_expression":"0 9 * * *","timezone":"Australia/Adelaide","inputs":{"topic":"daily"},"enabled":true}`
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/schedules", body, &created); code != http.StatusCreated || created.ID == "" {
		t.Fatalf("create %d %+v", code, created)
	}
	if created.BaseDirectory != f.sandbox {
		t.Fatalf("base directory should be captured server-side: %q", created.BaseDirectory)
	}
	base := srv.URL + "/api/v1/schedules/" + created.ID

	var next map[string]string
	if code := doJSON(t, http.MethodGet, base+"/next?after=2026-01-10T00:00:00Z", "", &next); code != http.StatusOK || next["next_fire"] != "2026-01-10T22:30:00" {
		t.Fatalf("next fire %d %v", code, next)
	}

	var disabled automation.Schedule
	if code := doJSON(t, http.MethodPost, base+"/disable", "", &disabled); code != http.StatusOK || disabled.Enabled {
		t.Fatalf("disable %d %+v", code, disabled)
	}
	var updated automation.Schedule
	if code := doJSON(t, http.MethodPut, base, `{"workflow_id":"echo","cron_expression":"*/15 * * * *","timezone":"UTC","enabled":true,"base_directory":"/etc"}`, &updated); code != http.StatusOK || updated.CronExpression != "*/15 * * * *" {
		t.Fatalf("update %d %+v", code, updated)
	}
	if updated.BaseDirectory != f.sandbox {
		t.Fatalf("update must keep the captured base directory: %q", updated.BaseDirectory)
	}

	cases := []struct {
		method, url, body string
		want              int
	}{
		{http.MethodPost, srv.URL + "/api/v1/schedules", `{"workflow_id":"echo","cron_expression":"nope","timezone":"UTC"}`, http.StatusBadRequest},
		{http.MethodPost, srv.URL + "/api/v1/schedules", `{"workflow_id":"ghost","cron_expression":"* * * * *","timezone":"UTC"}`, http.StatusBadRequest},
		{http.MethodPost, srv.URL + "/api/v1/schedules", `{"workflow_id":"echo","cron_expression":"* * * * *","timezone":"UTC","base_directory":"inbox"}`, http.StatusBadRequest},
		{http.MethodPost, srv.URL + "/api/v1/schedules", `{"workflow_id":"echo","cron_expression":"* * * * *","timezone":"UTC","base_directory":"/etc"}`, http.StatusBadRequest},
		{http.MethodGet, base + "/next?after=yesterday", "", http.StatusBadRequest},
		{http.MethodDelete, base, "", http.StatusNoContent},
		{http.MethodGet, base, "", http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := doJSON(t, tc.method, tc.url, tc.body, nil); got != tc.want {
			t.Fatalf("%s %s = %d want %d", tc.method, tc.url, got, tc.want)
		}
	}
}
