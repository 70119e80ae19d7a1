package store

import (
	"context"
	"errors"

	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/packs"
)

// TriggerJanitor removes triggers that were generated for a rule once no rule uses them.
type TriggerJanitor struct {
	store *RedisStore
}

// NewTriggerJanitor returns a janitor bound to store.
func NewTriggerJanitor(store *RedisStore) *TriggerJanitor {
	return &TriggerJanitor{store: store}
}

// CleanupOrphanTrigger deletes the trigger of a deleted rule when it carries parameters
// and no remaining rule references it.
func (j *TriggerJanitor) CleanupOrphanTrigger(ctx context.Context, rule *packs.Entity) error {
	if rule == nil || rule.Trigger == "" {
		return nil
	}
	trigger, err := j.store.GetEntityByRef(ctx, packs.KindTrigger, rule.Trigger)
	if errors.Is(err, packs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if trigger.Data["parameters"] == nil {
		return nil
	}
	n, err := j.store.CountRulesForTrigger(ctx, rule.Trigger)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Debug("store", "trigger still referenced", "trigger", rule.Trigger, "rules", n)
		return nil
	}
	if err := j.store.DeleteEntity(ctx, trigger); err != nil {
		return err
	}
	logging.Info("store", "orphan trigger removed", "trigger", rule.Trigger, "rule", rule.Ref)
	return nil
}

// Collections builds the deregistration cascade table over store.
func Collections(s *RedisStore) []packs.DependentCollection {
	return packs.NewCollections(s, NewTriggerJanitor(s))
}
