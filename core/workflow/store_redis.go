package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cordum/blackboard/core/infra/redisutil"
)

const timelineMaxEntries = 1000

// RedisJobStore persists job records and their event timelines in Redis.
type RedisJobStore struct {
	client redis.UniversalClient
}

// NewRedisJobStore connects to Redis at url.
func NewRedisJobStore(url string) (*RedisJobStore, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RedisJobStore{client: client}, nil
}

func NewRedisJobStoreWithClient(client redis.UniversalClient) *RedisJobStore {
	return &RedisJobStore{client: client}
}

// Close closes the underlying Redis client.
func (s *RedisJobStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// SaveJob upserts a job and keeps the workflow, status and schedule indexes
// current.
func (s *RedisJobStore) SaveJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" || job.WorkflowID == "" {
		return fmt.Errorf("job id and workflow id required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = NaiveNow()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	prevStatus := JobStatus("")
	if data, err := s.client.Get(ctx, jobKey(job.ID)).Bytes(); err == nil {
		var prev Job
		if err := json.Unmarshal(data, &prev); err == nil {
			prevStatus = prev.Status
		}
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	score := float64(job.CreatedAt.Unix())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), payload, 0)
	pipe.ZAdd(ctx, jobWorkflowIndexKey(job.WorkflowID), redis.Z{Score: score, Member: job.ID})
	pipe.ZAdd(ctx, jobAllIndexKey(), redis.Z{Score: score, Member: job.ID})
	pipe.ZAdd(ctx, jobStatusIndexKey(job.Status), redis.Z{Score: score, Member: job.ID})
	if prevStatus != "" && prevStatus != job.Status {
		pipe.ZRem(ctx, jobStatusIndexKey(prevStatus), job.ID)
	}
	if job.ScheduleID != "" {
		pipe.ZAdd(ctx, jobScheduleIndexKey(job.ScheduleID), redis.Z{Score: score, Member: job.ID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetJob fetches a job by id.
func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("job id required")
	}
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// DeleteJob removes a job, its indexes and its timeline.
func (s *RedisJobStore) DeleteJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.ZRem(ctx, jobAllIndexKey(), id)
	pipe.ZRem(ctx, jobWorkflowIndexKey(job.WorkflowID), id)
	pipe.ZRem(ctx, jobStatusIndexKey(job.Status), id)
	if job.ScheduleID != "" {
		pipe.ZRem(ctx, jobScheduleIndexKey(job.ScheduleID), id)
	}
	pipe.Del(ctx, jobTimelineKey(id))
	_, err = pipe.Exec(ctx)
	return err
}

// ListJobs returns recent jobs, newest first, optionally scoped to a
// workflow.
func (s *RedisJobStore) ListJobs(ctx context.Context, workflowID string, limit int64) ([]*Job, error) {
	index := jobAllIndexKey()
	if workflowID != "" {
		index = jobWorkflowIndexKey(workflowID)
	}
	return s.listFromIndex(ctx, index, limit)
}

// ListJobsBySchedule returns recent jobs materialised by a schedule.
func (s *RedisJobStore) ListJobsBySchedule(ctx context.Context, scheduleID string, limit int64) ([]*Job, error) {
	if scheduleID == "" {
		return nil, fmt.Errorf("schedule id required")
	}
	return s.listFromIndex(ctx, jobScheduleIndexKey(scheduleID), limit)
}

// ListJobIDsByStatus returns recent job ids with the given status.
func (s *RedisJobStore) ListJobIDsByStatus(ctx context.Context, status JobStatus, limit int64) ([]string, error) {
	if status == "" {
		return nil, fmt.Errorf("status required")
	}
	if limit <= 0 {
		limit = 200
	}
	ids, err := s.client.ZRevRange(ctx, jobStatusIndexKey(status), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}
	return ids, nil
}

func (s *RedisJobStore) listFromIndex(ctx context.Context, index string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, jobKey(id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		data, err := cmds[id].Bytes()
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		out = append(out, &job)
	}
	return out, nil
}

// AppendEvent records a progress event in append-only order.
func (s *RedisJobStore) AppendEvent(ctx context.Context, jobID string, evt Event) error {
	if jobID == "" {
		return fmt.Errorf("job id required")
	}
	if evt.Time.IsZero() {
		evt.Time = NaiveNow()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, jobTimelineKey(jobID), data)
	pipe.LTrim(ctx, jobTimelineKey(jobID), -timelineMaxEntries, -1)
	_, err = pipe.Exec(ctx)
	return err
}

// ListEvents returns a job's events in emission order.
func (s *RedisJobStore) ListEvents(ctx context.Context, jobID string, limit int64) ([]Event, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id required")
	}
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, jobTimelineKey(jobID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var evt Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func jobKey(id string) string {
	return "wf:job:" + id
}

func jobWorkflowIndexKey(workflowID string) string {
	return "wf:jobs:by-workflow:" + workflowID
}

func jobAllIndexKey() string {
	return "wf:jobs:all"
}

func jobStatusIndexKey(status JobStatus) string {
	return "wf:jobs:by-status:" + string(status)
}

func jobScheduleIndexKey(scheduleID string) string {
	return "wf:jobs:by-schedule:" + scheduleID
}

func jobTimelineKey(id string) string {
	return "wf:job:timeline:" + id
}
