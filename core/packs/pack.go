package packs

import (
	"context"
	"time"
)

// Pack is an installed content bundle.
type Pack struct {
	ID          string    `json:"id"`
	Ref         string    `json:"ref"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Author      string    `json:"author,omitempty"`
	Email       string    `json:"email,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Files       []string  `json:"files,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConfigSchema describes the configuration attributes a pack expects.
type ConfigSchema struct {
	ID         string         `json:"id"`
	Pack       string         `json:"pack"`
	Attributes map[string]any `json:"attributes"`
	// Digest is the canonical hash of Attributes, set by the store.
	Digest string `json:"digest,omitempty"`
}

// EntityKind names a collection of pack-owned records.
type EntityKind string

const (
	KindSensorType   EntityKind = "sensor_types"
	KindTriggerType  EntityKind = "trigger_types"
	KindTrigger      EntityKind = "triggers"
	KindAction       EntityKind = "actions"
	KindRule         EntityKind = "rules"
	KindActionAlias  EntityKind = "action_aliases"
	KindPack         EntityKind = "pack"
	KindConfigSchema EntityKind = "config_schema"
)

// CascadeOrder is the order dependent collections are emptied during deregistration.
var CascadeOrder = []EntityKind{
	KindSensorType,
	KindTriggerType,
	KindTrigger,
	KindAction,
	KindRule,
	KindActionAlias,
}

// Entity is a stored record owned by a pack.
type Entity struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
	Ref  string     `json:"ref"`
	Name string     `json:"name"`
	Pack string     `json:"pack"`
	// Trigger holds the trigger ref a rule is bound to.
	Trigger   string         `json:"trigger,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// String identifies the entity in logs and errors.
func (e *Entity) String() string {
	if e == nil {
		return "<nil>"
	}
	ref := e.Ref
	if ref == "" {
		ref = e.Name
	}
	return string(e.Kind) + ":" + ref + "(" + e.ID + ")"
}

// PackLookup is the read side of the pack collection.
type PackLookup interface {
	GetPackByID(ctx context.Context, id string) (*Pack, error)
	GetPackByRef(ctx context.Context, ref string) (*Pack, error)
	GetPackByName(ctx context.Context, name string) (*Pack, error)
}

// PackRecords is the pack collection as used by the deregistration engine.
type PackRecords interface {
	GetPackByName(ctx context.Context, name string) (*Pack, error)
	DeletePack(ctx context.Context, pack *Pack) error
}

// ConfigSchemaRecords is the config-schema collection as used by the deregistration engine.
type ConfigSchemaRecords interface {
	GetConfigSchema(ctx context.Context, pack string) (*ConfigSchema, error)
	DeleteConfigSchema(ctx context.Context, schema *ConfigSchema) error
}

// TriggerCleaner removes triggers that only existed to back a rule.
type TriggerCleaner interface {
	CleanupOrphanTrigger(ctx context.Context, rule *Entity) error
}
