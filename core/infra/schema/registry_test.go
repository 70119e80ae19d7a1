package schema

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/cordum-packs/core/packs"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRegistry(client)
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	cs := &packs.ConfigSchema{Pack: "mypack", Attributes: map[string]any{
		"api_key": map[string]any{"type": "string", "required": true},
	}}
	if err := reg.SaveConfigSchema(ctx, cs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if cs.ID == "" {
		t.Fatalf("expected id assigned")
	}
	got, err := reg.GetConfigSchema(ctx, "mypack")
	if err != nil || got.ID != cs.ID {
		t.Fatalf("get: %+v err=%v", got, err)
	}
	names, err := reg.List(ctx)
	if err != nil || len(names) != 1 || names[0] != "mypack" {
		t.Fatalf("list: %v err=%v", names, err)
	}
	if err := reg.ValidateConfig(ctx, "mypack", map[string]any{"api_key": "k"}); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
	if err := reg.ValidateConfig(ctx, "mypack", map[string]any{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if err := reg.DeleteConfigSchema(ctx, got); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.GetConfigSchema(ctx, "mypack"); !errors.Is(err, packs.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := reg.DeleteConfigSchema(ctx, got); !errors.Is(err, packs.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestRegistryValidateMissingSchema(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.ValidateConfig(context.Background(), "ghost", nil); !errors.Is(err, packs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegistryResaveKeepsID(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	attrs := map[string]any{"region": map[string]any{"type": "string"}}
	first := &packs.ConfigSchema{Pack: "aws", Attributes: attrs}
	if err := reg.SaveConfigSchema(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Digest == "" {
		t.Fatalf("expected digest set")
	}
	same := &packs.ConfigSchema{Pack: "aws", Attributes: map[string]any{"region": map[string]any{"type": "string"}}}
	if err := reg.SaveConfigSchema(ctx, same); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if same.ID != first.ID || same.Digest != first.Digest {
		t.Fatalf("unchanged schema should keep id and digest: %+v vs %+v", same, first)
	}
	changed := &packs.ConfigSchema{Pack: "aws", Attributes: map[string]any{"region": map[string]any{"type": "integer"}}}
	if err := reg.SaveConfigSchema(ctx, changed); err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed.ID != first.ID || changed.Digest == first.Digest {
		t.Fatalf("updated schema should keep id with new digest: %+v", changed)
	}
	got, err := reg.GetConfigSchema(ctx, "aws")
	if err != nil || got.Digest != changed.Digest {
		t.Fatalf("stored digest mismatch: %+v err=%v", got, err)
	}
}
