package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/cordum-packs/core/packs"
)

// SaveEntity upserts a dependent entity and maintains the per-pack and per-trigger indexes.
func (s *RedisStore) SaveEntity(ctx context.Context, e *packs.Entity) error {
	if e == nil || e.Kind == "" {
		return fmt.Errorf("entity kind required")
	}
	if strings.TrimSpace(e.Pack) == "" {
		return fmt.Errorf("entity pack required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	prev, err := s.GetEntity(ctx, e.Kind, e.ID)
	if err != nil && !errors.Is(err, packs.ErrNotFound) {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	pipe := s.client.TxPipeline()
	if prev != nil {
		unindex(ctx, pipe, prev)
	}
	pipe.Set(ctx, entityKey(e.Kind, e.ID), payload, 0)
	pipe.ZAdd(ctx, entityPackKey(e.Kind, e.Pack), redis.Z{Score: float64(e.CreatedAt.UnixNano()), Member: e.ID})
	if e.Ref != "" {
		pipe.Set(ctx, entityRefKey(e.Kind, e.Ref), e.ID, 0)
	}
	if e.Kind == packs.KindRule && e.Trigger != "" {
		pipe.SAdd(ctx, rulesByTriggerKey(e.Trigger), e.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if prev != nil && prev.Ref != "" && prev.Ref != e.Ref {
		return dropPointer(ctx, s.client, entityRefKey(prev.Kind, prev.Ref), prev.ID)
	}
	return nil
}

// GetEntity returns one entity of kind.
func (s *RedisStore) GetEntity(ctx context.Context, kind packs.EntityKind, id string) (*packs.Entity, error) {
	data, err := s.client.Get(ctx, entityKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, packs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e packs.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return &e, nil
}

// GetEntityByRef returns the entity of kind registered under ref.
func (s *RedisStore) GetEntityByRef(ctx context.Context, kind packs.EntityKind, ref string) (*packs.Entity, error) {
	id, err := s.client.Get(ctx, entityRefKey(kind, ref)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, packs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetEntity(ctx, kind, id)
}

// ListByPack returns entities of kind owned by pack in creation order.
func (s *RedisStore) ListByPack(ctx context.Context, kind packs.EntityKind, pack string) ([]*packs.Entity, error) {
	ids, err := s.client.ZRange(ctx, entityPackKey(kind, pack), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*packs.Entity, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, entityKey(kind, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var e packs.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal entity: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// DeleteEntity removes an entity and its index entries.
func (s *RedisStore) DeleteEntity(ctx context.Context, e *packs.Entity) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("entity id required")
	}
	current, err := s.GetEntity(ctx, e.Kind, e.ID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	unindex(ctx, pipe, current)
	pipe.Del(ctx, entityKey(current.Kind, current.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if current.Ref == "" {
		return nil
	}
	// Another entity may have been saved under the same ref since; keep its pointer.
	return dropPointer(ctx, s.client, entityRefKey(current.Kind, current.Ref), current.ID)
}

// CountRulesForTrigger reports how many stored rules are bound to the trigger ref.
func (s *RedisStore) CountRulesForTrigger(ctx context.Context, triggerRef string) (int64, error) {
	return s.client.SCard(ctx, rulesByTriggerKey(triggerRef)).Result()
}

// unindex drops the pack and trigger index entries of e. The ref pointer is handled by
// the caller with dropPointer.
func unindex(ctx context.Context, pipe redis.Pipeliner, e *packs.Entity) {
	pipe.ZRem(ctx, entityPackKey(e.Kind, e.Pack), e.ID)
	if e.Kind == packs.KindRule && e.Trigger != "" {
		pipe.SRem(ctx, rulesByTriggerKey(e.Trigger), e.ID)
	}
}

func entityKey(kind packs.EntityKind, id string) string {
	return "packs:" + string(kind) + ":" + id
}

func entityRefKey(kind packs.EntityKind, ref string) string {
	return "packs:" + string(kind) + ":ref:" + ref
}

func entityPackKey(kind packs.EntityKind, pack string) string {
	return "packs:" + string(kind) + ":by_pack:" + pack
}

func rulesByTriggerKey(triggerRef string) string {
	return "packs:rules:by_trigger:" + triggerRef
}
