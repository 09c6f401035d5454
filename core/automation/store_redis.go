package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cordum/blackboard/core/infra/redisutil"
	"github.com/cordum/blackboard/core/workflow"
)

// Store persists schedule definitions.
type Store interface {
	SaveSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// RedisStore keeps schedules as JSON documents with a creation-ordered index.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) SaveSchedule(ctx context.Context, sched *Schedule) error {
	if sched == nil || sched.ID == "" {
		return fmt.Errorf("schedule id required")
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = workflow.NaiveNow()
	}
	payload, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, scheduleKey(sched.ID), payload, 0)
	pipe.ZAdd(ctx, scheduleIndexKey(), redis.Z{Score: float64(sched.CreatedAt.Unix()), Member: sched.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	if id == "" {
		return nil, fmt.Errorf("schedule id required")
	}
	data, err := s.client.Get(ctx, scheduleKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return &sched, nil
}

// ListSchedules returns every schedule, oldest first.
func (s *RedisStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	ids, err := s.client.ZRange(ctx, scheduleIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Schedule{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = scheduleKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Schedule, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var sched Schedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			return nil, fmt.Errorf("unmarshal schedule %s: %w", ids[i], err)
		}
		out = append(out, &sched)
	}
	return out, nil
}

func (s *RedisStore) DeleteSchedule(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("schedule id required")
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, scheduleKey(id))
	pipe.ZRem(ctx, scheduleIndexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return nil
}

func scheduleKey(id string) string {
	return "sched:def:" + id
}

func scheduleIndexKey() string {
	return "sched:index:all"
}
