package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/cordum/blackboard/core/infra/artifacts"
)

func newTestJobStore(t *testing.T) (*RedisJobStore, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	store, err := NewRedisJobStore("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

func TestJobSaveGetList(t *testing.T) {
	store, _ := newTestJobStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"job-1", "job-2"} {
		job := &Job{ID: id, WorkflowID: "digest", Status: JobPending, CreatedAt: NewNaiveTime(base.Add(time.Duration(i) * time.Minute))}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	other := &Job{ID: "job-3", WorkflowID: "other", ScheduleID: "sched-1", CreatedAt: NewNaiveTime(base)}
	if err := store.SaveJob(ctx, other); err != nil {
		t.Fatalf("save other: %v", err)
	}

	got, err := store.GetJob(ctx, "job-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WorkflowID != "digest" || !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected job %+v", got)
	}

	list, err := store.ListJobs(ctx, "digest", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "job-2" || list[1].ID != "job-1" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	all, err := store.ListJobs(ctx, "", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %d", err, len(all))
	}
	scheduled, err := store.ListJobsBySchedule(ctx, "sched-1", 10)
	if err != nil || len(scheduled) != 1 || scheduled[0].ID != "job-3" {
		t.Fatalf("by schedule: %v %+v", err, scheduled)
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJobStatusIndexMoves(t *testing.T) {
	store, _ := newTestJobStore(t)
	ctx := context.Background()
	job := &Job{ID: "job-1", WorkflowID: "digest", Status: JobRunning}
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	job.Status = JobCompleted
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	running, err := store.ListJobIDsByStatus(ctx, JobRunning, 10)
	if err != nil || len(running) != 0 {
		t.Fatalf("running index should be empty: %v %v", err, running)
	}
	done, err := store.ListJobIDsByStatus(ctx, JobCompleted, 10)
	if err != nil || len(done) != 1 {
		t.Fatalf("completed index: %v %v", err, done)
	}

	if err := store.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if done, _ := store.ListJobIDsByStatus(ctx, JobCompleted, 10); len(done) != 0 {
		t.Fatalf("delete should clear indexes: %v", done)
	}
}

func TestEngineRecordsToRedis(t *testing.T) {
	store, srv := newTestJobStore(t)
	artifactStore := artifacts.NewRedisStoreWithClient(store.client)
	reg := testRegistry(t)
	m := mustParse(t, reg, echoManifest)
	m.ID = "echo-topic"

	eng := NewEngine(reg, WithJobStore(store), WithArtifacts(artifactStore))
	res, err := eng.Run(context.Background(), m, map[string]any{"topic": "hello"}, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx := context.Background()
	saved, err := store.GetJob(ctx, res.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if saved.Status != JobCompleted || saved.WorkflowID != "echo-topic" || saved.Result["out"] != "hello" {
		t.Fatalf("unexpected saved job %+v", saved)
	}
	if saved.StartedAt == nil || saved.CompletedAt == nil {
		t.Fatalf("timestamps missing: %+v", saved)
	}

	events, err := store.ListEvents(ctx, res.Job.ID, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 || events[0].Status != StatusRunning || events[3].Status != StatusCompleted {
		t.Fatalf("unexpected timeline %+v", events)
	}

	if saved.ArtifactPtr == "" {
		t.Fatalf("artifact pointer missing")
	}
	data, meta, err := artifactStore.Get(ctx, saved.ArtifactPtr)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if meta.Retention != artifacts.RetentionStandard {
		t.Fatalf("retention %s", meta.Retention)
	}
	var board map[string]map[string]any
	if err := json.Unmarshal(data, &board); err != nil || board["steps"]["s1"] == nil {
		t.Fatalf("artifact content %s (%v)", data, err)
	}

	keys := srv.Keys()
	if len(keys) == 0 {
		t.Fatalf("expected redis keys")
	}
}

func TestRedactedSecretInputs(t *testing.T) {
	store, _ := newTestJobStore(t)
	t.Setenv("DIGEST_TOKEN", "s3cr3t")
	reg := testRegistry(t)
	m := mustParse(t, reg, echoManifest)

	res, err := NewEngine(reg, WithJobStore(store)).Run(context.Background(), m, map[string]any{"topic": "secret://env/DIGEST_TOKEN"}, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outputs["out"] != "s3cr3t" {
		t.Fatalf("secret should resolve for the run, got %v", res.Outputs["out"])
	}
	saved, err := store.GetJob(context.Background(), res.Job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.Inputs["topic"] == "s3cr3t" {
		t.Fatalf("stored inputs leaked the secret: %+v", saved.Inputs)
	}
}
