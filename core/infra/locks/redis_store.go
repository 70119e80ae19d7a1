package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 60 * time.Second
	keyPrefix  = "packs:lock:"
)

// RedisStore keeps one key per resource holding the owner token.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed lock store over an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire takes the lock if it is free or already owned by owner.
func (s *RedisStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (*Lock, bool, error) {
	resource, owner, err := normalize(s, resource, owner)
	if err != nil {
		return nil, false, err
	}
	ttl = normalizeTTL(ttl)
	res, err := s.client.Eval(ctx, acquireScript, []string{lockKey(resource)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, false, err
	}
	if res == 0 {
		return nil, false, nil
	}
	return &Lock{Resource: resource, Owner: owner, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

// Release deletes the lock when owner still holds it.
func (s *RedisStore) Release(ctx context.Context, resource, owner string) error {
	resource, owner, err := normalize(s, resource, owner)
	if err != nil {
		return err
	}
	res, err := s.client.Eval(ctx, releaseScript, []string{lockKey(resource)}, owner).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Renew extends the TTL when owner still holds the lock.
func (s *RedisStore) Renew(ctx context.Context, resource, owner string, ttl time.Duration) error {
	resource, owner, err := normalize(s, resource, owner)
	if err != nil {
		return err
	}
	ttl = normalizeTTL(ttl)
	res, err := s.client.Eval(ctx, renewScript, []string{lockKey(resource)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Get returns the current holder, or nil when the lock is free.
func (s *RedisStore) Get(ctx context.Context, resource string) (*Lock, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, fmt.Errorf("resource required")
	}
	key := lockKey(resource)
	owner, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lock := &Lock{Resource: resource, Owner: owner}
	if ttl, err := s.client.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
		lock.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	return lock, nil
}

func normalize(s *RedisStore, resource, owner string) (string, string, error) {
	if s == nil || s.client == nil {
		return "", "", fmt.Errorf("lock store unavailable")
	}
	resource = strings.TrimSpace(resource)
	owner = strings.TrimSpace(owner)
	if resource == "" || owner == "" {
		return "", "", fmt.Errorf("resource and owner required")
	}
	return resource, owner, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func lockKey(resource string) string {
	return keyPrefix + resource
}

const acquireScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
if current == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
