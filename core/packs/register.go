package packs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cordum/cordum-packs/core/infra/logging"
	"github.com/cordum/cordum-packs/core/infra/metrics"
)

// ContentKind names a kind of pack content ingested by a registrar.
type ContentKind string

const (
	ContentRunners     ContentKind = "runners"
	ContentActions     ContentKind = "actions"
	ContentTriggers    ContentKind = "triggers"
	ContentSensors     ContentKind = "sensors"
	ContentRuleTypes   ContentKind = "rule_types"
	ContentRules       ContentKind = "rules"
	ContentAliases     ContentKind = "aliases"
	ContentPolicyTypes ContentKind = "policy_types"
	ContentPolicies    ContentKind = "policies"
	ContentConfigs     ContentKind = "configs"
)

// RegistrationStep is one registrar invocation in the bulk registration sequence.
type RegistrationStep struct {
	Kind     ContentKind
	FailFast bool
}

// RegistrationSteps lists registrars in dependency order: later kinds may reference
// entities registered by earlier ones.
var RegistrationSteps = []RegistrationStep{
	{Kind: ContentRunners, FailFast: true},
	{Kind: ContentActions},
	{Kind: ContentTriggers},
	{Kind: ContentSensors},
	{Kind: ContentRuleTypes, FailFast: true},
	{Kind: ContentRules},
	{Kind: ContentAliases},
	{Kind: ContentPolicyTypes},
	{Kind: ContentPolicies},
	{Kind: ContentConfigs},
}

var kindAliases = map[string]ContentKind{
	"runner":      ContentRunners,
	"action":      ContentActions,
	"trigger":     ContentTriggers,
	"sensor":      ContentSensors,
	"rule_type":   ContentRuleTypes,
	"rule":        ContentRules,
	"alias":       ContentAliases,
	"policy_type": ContentPolicyTypes,
	"policy":      ContentPolicies,
	"config":      ContentConfigs,
}

// KindSet is a set of content kinds.
type KindSet map[ContentKind]struct{}

// NewKindSet builds a set from kinds.
func NewKindSet(kinds ...ContentKind) KindSet {
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

// AllKinds returns every registrable content kind.
func AllKinds() KindSet {
	set := make(KindSet, len(RegistrationSteps))
	for _, step := range RegistrationSteps {
		set[step.Kind] = struct{}{}
	}
	return set
}

// Has reports whether kind is in the set.
func (s KindSet) Has(kind ContentKind) bool {
	_, ok := s[kind]
	return ok
}

// ParseKind accepts a plural kind name or its singular alias.
func ParseKind(raw string) (ContentKind, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if kind, ok := kindAliases[name]; ok {
		return kind, nil
	}
	for _, step := range RegistrationSteps {
		if string(step.Kind) == name {
			return step.Kind, nil
		}
	}
	return "", fmt.Errorf("unknown content type %q", raw)
}

// ParseKinds converts names into a kind set. Blank entries are ignored.
func ParseKinds(names []string) (KindSet, error) {
	set := KindSet{}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		set[kind] = struct{}{}
	}
	return set, nil
}

// RegistrationResult is what a registrar reports for one content kind.
type RegistrationResult struct {
	Registered []string `json:"registered"`
	Errors     []string `json:"errors,omitempty"`
}

// Registrar ingests one content kind from pack sources into the store.
type Registrar interface {
	Register(ctx context.Context, failOnFailure bool) (RegistrationResult, error)
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, failOnFailure bool) (RegistrationResult, error)

func (f RegistrarFunc) Register(ctx context.Context, failOnFailure bool) (RegistrationResult, error) {
	return f(ctx, failOnFailure)
}

var errNoRegistrar = errors.New("no registrar configured")

// Orchestrator drives the registrar table for bulk registration.
type Orchestrator struct {
	registrars map[ContentKind]Registrar
	steps      []RegistrationStep
	metrics    metrics.PackMetrics
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithFailFastKinds replaces the default fail-fast configuration: only kinds in the set
// abort registration on error.
func WithFailFastKinds(kinds KindSet) OrchestratorOption {
	return func(o *Orchestrator) {
		for i := range o.steps {
			o.steps[i].FailFast = kinds.Has(o.steps[i].Kind)
		}
	}
}

// WithRegistrationMetrics records per-kind registration outcomes.
func WithRegistrationMetrics(m metrics.PackMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewOrchestrator constructs an orchestrator over per-kind registrars.
func NewOrchestrator(registrars map[ContentKind]Registrar, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registrars: registrars,
		steps:      append([]RegistrationStep(nil), RegistrationSteps...),
		metrics:    metrics.Noop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Steps returns the configured registration sequence.
func (o *Orchestrator) Steps() []RegistrationStep {
	return append([]RegistrationStep(nil), o.steps...)
}

// RegisterAll runs the registrar of every requested kind in step order. An empty set
// registers every kind. Kinds not requested are absent from the result.
func (o *Orchestrator) RegisterAll(ctx context.Context, kinds KindSet) (map[ContentKind]RegistrationResult, error) {
	if len(kinds) == 0 {
		kinds = AllKinds()
	}
	results := make(map[ContentKind]RegistrationResult, len(kinds))
	for _, step := range o.steps {
		if !kinds.Has(step.Kind) {
			continue
		}
		registrar, ok := o.registrars[step.Kind]
		if !ok || registrar == nil {
			logging.Error("packs", "registrar missing", "kind", step.Kind)
			results[step.Kind] = RegistrationResult{Registered: []string{}, Errors: []string{errNoRegistrar.Error()}}
			o.metrics.IncRegistration(string(step.Kind), "error")
			if step.FailFast {
				return results, &RegistrarError{Kind: step.Kind, Err: errNoRegistrar}
			}
			continue
		}
		res, err := registrar.Register(ctx, step.FailFast)
		if res.Registered == nil {
			res.Registered = []string{}
		}
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			results[step.Kind] = res
			o.metrics.IncRegistration(string(step.Kind), "error")
			if step.FailFast {
				logging.Error("packs", "registration aborted", "kind", step.Kind, "error", err)
				return results, &RegistrarError{Kind: step.Kind, Err: err}
			}
			logging.Warn("packs", "registration failed, continuing", "kind", step.Kind, "error", err)
			continue
		}
		results[step.Kind] = res
		outcome := "ok"
		if len(res.Errors) > 0 {
			outcome = "partial"
		}
		o.metrics.IncRegistration(string(step.Kind), outcome)
		logging.Info("packs", "registered content", "kind", step.Kind, "count", len(res.Registered), "errors", len(res.Errors))
	}
	return results, nil
}

// SortedKinds returns the kinds of a result map in registration order.
func SortedKinds(results map[ContentKind]RegistrationResult) []ContentKind {
	order := make(map[ContentKind]int, len(RegistrationSteps))
	for i, step := range RegistrationSteps {
		order[step.Kind] = i
	}
	out := make([]ContentKind, 0, len(results))
	for k := range results {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
