package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/cordum-packs/core/packs"
)

var (
	// ErrRefTaken is returned when saving a pack whose ref belongs to another pack.
	ErrRefTaken = errors.New("pack ref already registered")
	// ErrRefImmutable is returned when an update would change a stored pack's ref.
	ErrRefImmutable = errors.New("pack ref is immutable")
)

// PackFilter narrows ListPacks. Empty fields match everything.
type PackFilter struct {
	Name string
	Ref  string
}

// RedisStore persists packs and their dependent entities in Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a store over an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// SavePack upserts a pack. An empty ID is assigned. The ref must be unique and may not
// change once stored.
func (s *RedisStore) SavePack(ctx context.Context, p *packs.Pack) error {
	if p == nil {
		return fmt.Errorf("pack required")
	}
	p.Ref = strings.TrimSpace(p.Ref)
	p.Name = strings.TrimSpace(p.Name)
	if p.Ref == "" || p.Name == "" {
		return fmt.Errorf("pack ref and name required")
	}
	var prev *packs.Pack
	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if existing, err := s.GetPackByID(ctx, p.ID); err == nil {
		prev = existing
	} else if !errors.Is(err, packs.ErrNotFound) {
		return err
	}
	if prev != nil && prev.Ref != p.Ref {
		return fmt.Errorf("%w: %s is registered as %s", ErrRefImmutable, p.ID, prev.Ref)
	}
	claimed, err := s.claimRef(ctx, p.Ref, p.ID)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		s.unclaimRef(claimed, p.Ref, p.ID)
		return fmt.Errorf("marshal pack: %w", err)
	}

	pipe := s.client.TxPipeline()
	if prev != nil {
		pipe.ZRem(ctx, packNameKey(prev.Name), prev.ID)
	}
	pipe.Set(ctx, packKey(p.ID), payload, 0)
	pipe.ZAdd(ctx, packNameKey(p.Name), redis.Z{Score: float64(p.CreatedAt.UnixNano()), Member: p.ID})
	pipe.SAdd(ctx, packIndexKey(), p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		s.unclaimRef(claimed, p.Ref, p.ID)
		return err
	}
	return nil
}

// claimRef points ref at id with SETNX. It reports whether this call created the
// pointer; a pointer already held by id is accepted.
func (s *RedisStore) claimRef(ctx context.Context, ref, id string) (bool, error) {
	ok, err := s.client.SetNX(ctx, packRefKey(ref), id, 0).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	owner, err := s.client.Get(ctx, packRefKey(ref)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	if owner != id {
		return false, fmt.Errorf("%w: %s", ErrRefTaken, ref)
	}
	return false, nil
}

func (s *RedisStore) unclaimRef(claimed bool, ref, id string) {
	if !claimed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = dropPointer(ctx, s.client, packRefKey(ref), id)
}

// GetPackByID returns a pack by its storage id.
func (s *RedisStore) GetPackByID(ctx context.Context, id string) (*packs.Pack, error) {
	if strings.TrimSpace(id) == "" {
		return nil, packs.ErrNotFound
	}
	data, err := s.client.Get(ctx, packKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, packs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p packs.Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pack: %w", err)
	}
	return &p, nil
}

// GetPackByRef returns the pack registered under ref.
func (s *RedisStore) GetPackByRef(ctx context.Context, ref string) (*packs.Pack, error) {
	id, err := s.client.Get(ctx, packRefKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, packs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetPackByID(ctx, id)
}

// GetPackByName returns the earliest registered pack with name.
func (s *RedisStore) GetPackByName(ctx context.Context, name string) (*packs.Pack, error) {
	ids, err := s.client.ZRange(ctx, packNameKey(name), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, packs.ErrNotFound
	}
	return s.GetPackByID(ctx, ids[0])
}

// ListPacks returns packs matching filter sorted by ref.
func (s *RedisStore) ListPacks(ctx context.Context, filter PackFilter) ([]*packs.Pack, error) {
	ids, err := s.client.SMembers(ctx, packIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*packs.Pack{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, packKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]*packs.Pack, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			// Removed between SMEMBERS and GET.
			continue
		}
		if err != nil {
			return nil, err
		}
		var p packs.Pack
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pack %s: %w", ids[i], err)
		}
		if filter.Name != "" && p.Name != filter.Name {
			continue
		}
		if filter.Ref != "" && p.Ref != filter.Ref {
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

// DeletePack removes a pack record and its indexes.
func (s *RedisStore) DeletePack(ctx context.Context, p *packs.Pack) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("pack id required")
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, packKey(p.ID))
	pipe.SRem(ctx, packIndexKey(), p.ID)
	pipe.ZRem(ctx, packNameKey(p.Name), p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return packs.ErrNotFound
	}
	return dropPointer(ctx, s.client, packRefKey(p.Ref), p.ID)
}

// dropPointer deletes key only while it still holds id.
func dropPointer(ctx context.Context, client redis.UniversalClient, key, id string) error {
	if err := client.Eval(ctx, delIfEqualScript, []string{key}, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

const delIfEqualScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

func packKey(id string) string       { return "packs:pack:" + id }
func packRefKey(ref string) string   { return "packs:pack:ref:" + ref }
func packNameKey(name string) string { return "packs:pack:name:" + name }
func packIndexKey() string           { return "packs:pack:index" }
