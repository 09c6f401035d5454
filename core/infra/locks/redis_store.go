package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cordum/blackboard/core/infra/redisutil"
)

const (
	defaultTTL = 30 * time.Second
	keyPrefix  = "bb:lease:"
)

// Lease scripts compare the stored owner before touching the key so a
// holder never extends or drops a lease that already passed to someone else.
var (
	acquireLease = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder and holder ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", tonumber(ARGV[2]))
return 1
`)
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)
	renewLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[2]))
`)
)

// RedisStore keeps leases as plain string keys holding the owner id.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client), nil
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

func (s *RedisStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	return s.run(ctx, acquireLease, resource, owner, leaseMillis(ttl))
}

func (s *RedisStore) Release(ctx context.Context, resource, owner string) (bool, error) {
	return s.run(ctx, releaseLease, resource, owner)
}

func (s *RedisStore) Renew(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	return s.run(ctx, renewLease, resource, owner, leaseMillis(ttl))
}

func (s *RedisStore) Owner(ctx context.Context, resource string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "", errors.New("resource required")
	}
	owner, err := s.client.Get(ctx, keyPrefix+resource).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, resource, owner string, extra ...any) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("lock store unavailable")
	}
	resource, owner = strings.TrimSpace(resource), strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return false, fmt.Errorf("lease on %q: resource and owner required", resource)
	}
	args := append([]any{owner}, extra...)
	n, err := script.Run(ctx, s.client, []string{keyPrefix + resource}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("lease on %q: %w", resource, err)
	}
	return n == 1, nil
}

func leaseMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return ttl.Milliseconds()
}
