package packs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/infra/metrics"
)

// DependentCollection is one row of the cascade table: how to find and remove the
// entities of a kind owned by a pack.
type DependentCollection struct {
	Kind       EntityKind
	ListByPack func(ctx context.Context, pack string) ([]*Entity, error)
	Delete     func(ctx context.Context, entity *Entity) error
	// AfterDelete runs for each entity that was deleted successfully. Optional.
	AfterDelete func(ctx context.Context, entity *Entity) error
}

// EntitySource is a store holding every dependent entity kind.
type EntitySource interface {
	ListByPack(ctx context.Context, kind EntityKind, pack string) ([]*Entity, error)
	DeleteEntity(ctx context.Context, entity *Entity) error
}

// NewCollections builds the cascade table in CascadeOrder over a single entity store.
// Deleted rules are handed to cleaner to drop their auto-generated triggers.
func NewCollections(src EntitySource, cleaner TriggerCleaner) []DependentCollection {
	out := make([]DependentCollection, 0, len(CascadeOrder))
	for _, kind := range CascadeOrder {
		kind := kind
		coll := DependentCollection{
			Kind: kind,
			ListByPack: func(ctx context.Context, pack string) ([]*Entity, error) {
				return src.ListByPack(ctx, kind, pack)
			},
			Delete: src.DeleteEntity,
		}
		if kind == KindRule && cleaner != nil {
			coll.AfterDelete = cleaner.CleanupOrphanTrigger
		}
		out = append(out, coll)
	}
	return out
}

// PackLocker serializes cascades of the same pack across requests.
type PackLocker interface {
	LockPack(ctx context.Context, pack string) (release func(), err error)
}

// DeleteOutcome records what happened to one dependent entity.
type DeleteOutcome struct {
	Kind         EntityKind `json:"kind"`
	ID           string     `json:"id"`
	Ref          string     `json:"ref"`
	Deleted      bool       `json:"deleted"`
	Error        string     `json:"error,omitempty"`
	CleanupError string     `json:"cleanup_error,omitempty"`
}

// PackReport audits the cascade of a single pack.
type PackReport struct {
	Pack                string                         `json:"pack"`
	Entities            map[EntityKind][]DeleteOutcome `json:"entities"`
	PackDeleted         bool                           `json:"pack_deleted"`
	ConfigSchemaDeleted bool                           `json:"config_schema_deleted"`
	Error               string                         `json:"error,omitempty"`
}

// Deleted returns the outcomes of kind that were removed.
func (r *PackReport) Deleted(kind EntityKind) []DeleteOutcome {
	return r.filter(kind, true)
}

// Failed returns the outcomes of kind that could not be removed.
func (r *PackReport) Failed(kind EntityKind) []DeleteOutcome {
	return r.filter(kind, false)
}

func (r *PackReport) filter(kind EntityKind, deleted bool) []DeleteOutcome {
	var out []DeleteOutcome
	for _, o := range r.Entities[kind] {
		if o.Deleted == deleted {
			out = append(out, o)
		}
	}
	return out
}

// DeregistrationReport lists the per-pack reports in processing order.
type DeregistrationReport struct {
	Packs []*PackReport `json:"packs"`
}

// Engine performs cascading pack deregistration.
type Engine struct {
	collections []DependentCollection
	packs       PackRecords
	schemas     ConfigSchemaRecords
	protected   ProtectedSet
	locker      PackLocker
	metrics     metrics.PackMetrics
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithPackLocker makes each pack cascade hold an exclusive per-pack lock.
func WithPackLocker(locker PackLocker) EngineOption {
	return func(e *Engine) { e.locker = locker }
}

// WithDeregistrationMetrics records cascade outcomes.
func WithDeregistrationMetrics(m metrics.PackMetrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine constructs a deregistration engine. collections are processed in slice order.
func NewEngine(collections []DependentCollection, packs PackRecords, schemas ConfigSchemaRecords, protected ProtectedSet, opts ...EngineOption) *Engine {
	e := &Engine{
		collections: collections,
		packs:       packs,
		schemas:     schemas,
		protected:   protected,
		metrics:     metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deregister removes every named pack with its dependent entities. Protected packs fail the
// whole request before anything is deleted. Packs are processed in order and processing
// stops at the first fatal error; packs already processed stay removed.
func (e *Engine) Deregister(ctx context.Context, packNames []string) (*DeregistrationReport, error) {
	names := make([]string, 0, len(packNames))
	for _, name := range packNames {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	report := &DeregistrationReport{Packs: []*PackReport{}}
	if blocked := e.protected.Intersect(names); len(blocked) > 0 {
		e.metrics.IncDeregistration("rejected")
		logging.Warn("packs", "refusing to deregister system packs", "packs", strings.Join(blocked, ","))
		return report, newInvalidOperation(blocked)
	}
	for _, name := range names {
		pr, err := e.deregisterPack(ctx, name)
		report.Packs = append(report.Packs, pr)
		if err != nil {
			pr.Error = err.Error()
			e.metrics.IncDeregistration("failed")
			return report, err
		}
		e.metrics.IncDeregistration("ok")
		logging.Info("packs", "removed pack", "pack", name)
	}
	return report, nil
}

func (e *Engine) deregisterPack(ctx context.Context, name string) (*PackReport, error) {
	pr := &PackReport{Pack: name, Entities: map[EntityKind][]DeleteOutcome{}}
	logging.Debug("packs", "removing pack", "pack", name)

	if e.locker != nil {
		release, err := e.locker.LockPack(ctx, name)
		if err != nil {
			return pr, fmt.Errorf("lock pack %s: %w", name, err)
		}
		defer release()
	}

	for _, coll := range e.collections {
		outcomes, err := e.deleteDependents(ctx, coll, name)
		pr.Entities[coll.Kind] = outcomes
		if err != nil {
			return pr, err
		}
	}

	pack, err := e.packs.GetPackByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		logging.Warn("packs", "pack record not found", "pack", name)
	case err != nil:
		return pr, fmt.Errorf("lookup pack %s: %w", name, err)
	default:
		if err := e.packs.DeletePack(ctx, pack); err != nil {
			logging.Error("packs", "failed to remove pack record", "pack", name, "id", pack.ID, "error", err)
			return pr, &PrimaryDeleteError{Kind: KindPack, Name: name, ID: pack.ID, Err: err}
		}
		pr.PackDeleted = true
	}

	schema, err := e.schemas.GetConfigSchema(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		logging.Warn("packs", "config schema not found", "pack", name)
	case err != nil:
		return pr, fmt.Errorf("lookup config schema %s: %w", name, err)
	default:
		if err := e.schemas.DeleteConfigSchema(ctx, schema); err != nil {
			logging.Error("packs", "failed to remove config schema", "pack", name, "id", schema.ID, "error", err)
			return pr, &PrimaryDeleteError{Kind: KindConfigSchema, Name: name, ID: schema.ID, Err: err}
		}
		pr.ConfigSchemaDeleted = true
	}
	return pr, nil
}

// deleteDependents removes entities one at a time; a failed delete is recorded, not returned.
func (e *Engine) deleteDependents(ctx context.Context, coll DependentCollection, pack string) ([]DeleteOutcome, error) {
	entities, err := coll.ListByPack(ctx, pack)
	if err != nil {
		logging.Error("packs", "failed to list pack entities", "pack", pack, "kind", coll.Kind, "error", err)
		return nil, fmt.Errorf("list %s for pack %s: %w", coll.Kind, pack, err)
	}
	outcomes := make([]DeleteOutcome, 0, len(entities))
	for _, entity := range entities {
		outcome := DeleteOutcome{Kind: coll.Kind, ID: entity.ID, Ref: entity.Ref}
		if err := coll.Delete(ctx, entity); err != nil {
			logging.Error("packs", "failed to remove entity", "entity", entity.String(), "error", err)
			outcome.Error = err.Error()
			e.metrics.IncEntityDelete(string(coll.Kind), "failed")
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Deleted = true
		e.metrics.IncEntityDelete(string(coll.Kind), "ok")
		logging.Debug("packs", "removed entity", "entity", entity.String())
		if coll.AfterDelete != nil {
			if err := coll.AfterDelete(ctx, entity); err != nil {
				logging.Error("packs", "post-delete cleanup failed", "entity", entity.String(), "error", err)
				outcome.CleanupError = err.Error()
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
