package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/cordum-packs/core/packs"
)

// Registry stores pack config schemas in Redis, one per pack.
type Registry struct {
	client redis.UniversalClient
}

// NewRegistry constructs a Redis-backed config schema registry.
func NewRegistry(client redis.UniversalClient) *Registry {
	return &Registry{client: client}
}

// SaveConfigSchema upserts the schema of cs.Pack. An unchanged schema is not rewritten.
func (r *Registry) SaveConfigSchema(ctx context.Context, cs *packs.ConfigSchema) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry unavailable")
	}
	if cs == nil || strings.TrimSpace(cs.Pack) == "" {
		return fmt.Errorf("config schema pack required")
	}
	digest, err := Digest(cs.Attributes)
	if err != nil {
		return err
	}
	existing, err := r.GetConfigSchema(ctx, cs.Pack)
	switch {
	case err == nil:
		// Re-registration keeps the stored id.
		cs.ID = existing.ID
		if existing.Digest == digest {
			cs.Digest = digest
			return nil
		}
	case !errors.Is(err, packs.ErrNotFound):
		return err
	}
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	cs.Digest = digest
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("marshal config schema: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, schemaKey(cs.Pack), payload, 0)
	pipe.SAdd(ctx, schemaIndexKey(), cs.Pack)
	_, err = pipe.Exec(ctx)
	return err
}

// GetConfigSchema returns the schema of pack or packs.ErrNotFound.
func (r *Registry) GetConfigSchema(ctx context.Context, pack string) (*packs.ConfigSchema, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("registry unavailable")
	}
	pack = strings.TrimSpace(pack)
	if pack == "" {
		return nil, fmt.Errorf("pack required")
	}
	data, err := r.client.Get(ctx, schemaKey(pack)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, packs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cs packs.ConfigSchema
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("unmarshal config schema: %w", err)
	}
	return &cs, nil
}

// DeleteConfigSchema removes a stored schema.
func (r *Registry) DeleteConfigSchema(ctx context.Context, cs *packs.ConfigSchema) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry unavailable")
	}
	if cs == nil || cs.Pack == "" {
		return fmt.Errorf("config schema pack required")
	}
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, schemaKey(cs.Pack))
	pipe.SRem(ctx, schemaIndexKey(), cs.Pack)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return packs.ErrNotFound
	}
	return nil
}

// List returns the packs that have a stored schema, sorted by name.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("registry unavailable")
	}
	names, err := r.client.SMembers(ctx, schemaIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ValidateConfig validates values against the stored schema of pack.
func (r *Registry) ValidateConfig(ctx context.Context, pack string, values map[string]any) error {
	cs, err := r.GetConfigSchema(ctx, pack)
	if err != nil {
		return err
	}
	return ValidateConfig(cs.Pack, cs.Attributes, values)
}

func schemaKey(pack string) string {
	return "packs:config_schema:" + pack
}

func schemaIndexKey() string {
	return "packs:config_schema:index"
}
