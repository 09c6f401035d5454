package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/blackboard/core/infra/redisutil"
)

const (
	envTTLStandard = "BLACKBOARD_ARTIFACT_TTL"
	envTTLAudit    = "BLACKBOARD_ARTIFACT_AUDIT_TTL"

	fieldContent = "content"
	fieldMeta    = "meta"
)

// RedisStore keeps each artifact in one hash (content plus metadata) and
// indexes artifacts per job in a sorted set.
type RedisStore struct {
	client redis.UniversalClient
	ttl    map[RetentionClass]time.Duration
	now    func() time.Time
}

func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		ttl: map[RetentionClass]time.Duration{
			RetentionStandard: durationFromEnv(envTTLStandard, 7*24*time.Hour),
			RetentionAudit:    durationFromEnv(envTTLAudit, 30*24*time.Hour),
		},
		now: time.Now,
	}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Put stores content under a fresh id and returns its pointer.
func (s *RedisStore) Put(ctx context.Context, content []byte, meta Metadata) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("artifact store unavailable")
	}
	if meta.Retention == "" {
		meta.Retention = RetentionStandard
	}
	ttl, ok := s.ttl[meta.Retention]
	if !ok {
		return "", fmt.Errorf("unknown retention class %q", meta.Retention)
	}
	sum := sha256.Sum256(content)
	meta.SizeBytes = int64(len(content))
	meta.Digest = "sha256:" + hex.EncodeToString(sum[:])
	meta.CreatedAt = s.now().UTC()
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode artifact metadata: %w", err)
	}

	id := uuid.NewString()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, artifactKey(id), fieldContent, content, fieldMeta, encoded)
	pipe.Expire(ctx, artifactKey(id), ttl)
	if meta.JobID != "" {
		idx := jobIndexKey(meta.JobID)
		pipe.ZAdd(ctx, idx, redis.Z{Score: float64(meta.CreatedAt.UnixMilli()), Member: id})
		pipe.Expire(ctx, idx, s.longestTTL())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return pointerFor(id), nil
}

// Get loads an artifact and verifies it against its recorded digest.
func (s *RedisStore) Get(ctx context.Context, ptr string) ([]byte, Metadata, error) {
	if s == nil || s.client == nil {
		return nil, Metadata{}, errors.New("artifact store unavailable")
	}
	id, err := IDFromPointer(ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	vals, err := s.client.HMGet(ctx, artifactKey(id), fieldContent, fieldMeta).Result()
	if err != nil {
		return nil, Metadata{}, err
	}
	content, ok := vals[0].(string)
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, ptr)
	}
	var meta Metadata
	if raw, ok := vals[1].(string); ok {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, Metadata{}, fmt.Errorf("decode artifact metadata: %w", err)
		}
	}
	if meta.Digest != "" {
		sum := sha256.Sum256([]byte(content))
		if meta.Digest != "sha256:"+hex.EncodeToString(sum[:]) {
			return nil, meta, fmt.Errorf("%w: %s", ErrCorrupt, ptr)
		}
	}
	return []byte(content), meta, nil
}

// ListForJob returns live artifact pointers for a job. Index members whose
// artifact expired are pruned.
func (s *RedisStore) ListForJob(ctx context.Context, jobID string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("artifact store unavailable")
	}
	ids, err := s.client.ZRange(ctx, jobIndexKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	var stale []any
	for _, id := range ids {
		n, err := s.client.Exists(ctx, artifactKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		out = append(out, pointerFor(id))
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, jobIndexKey(jobID), stale...).Err()
	}
	return out, nil
}

func (s *RedisStore) longestTTL() time.Duration {
	var max time.Duration
	for _, d := range s.ttl {
		if d > max {
			max = d
		}
	}
	return max
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

func artifactKey(id string) string    { return "bb:artifact:" + id }
func jobIndexKey(jobID string) string { return "bb:artifact:job:" + jobID }
