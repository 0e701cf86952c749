// Package service implements the rule registry and its two evaluation
// entrypoints, grounded on
// original_source/backend/services/rule_engine.py (RULE_REGISTRY,
// evaluate_rules, evaluate_rules_for_scheduler).
package service

import (
	"context"
	"time"

	"aginosd/internal/platform/config/ruleconfig"
	"aginosd/internal/platform/logger"
	"aginosd/internal/services/rules/domain"
)

// Registry holds rule specs in deterministic insertion order
type Registry struct {
	order []string
	specs map[string]domain.RuleSpec
}

// NewRegistry builds a Registry from specs, preserving the given order
func NewRegistry(specs ...domain.RuleSpec) *Registry {
	r := &Registry{specs: make(map[string]domain.RuleSpec, len(specs))}
	for _, s := range specs {
		r.order = append(r.order, s.RuleID)
		r.specs[s.RuleID] = s
	}
	return r
}

// IDs returns rule ids in registry order
func (r *Registry) IDs() []string { return append([]string(nil), r.order...) }

// EvaluateRules evaluates ruleIDs (or all, if empty) over one shared
// [since, until) window, aggregating results in registry order. Mirrors
// evaluate_rules.
func (r *Registry) EvaluateRules(
	ctx context.Context, since, until, now time.Time, ruleIDs ...string,
) ([]domain.Deviation, error) {
	selected := ruleIDs
	if len(selected) == 0 {
		selected = r.order
	}

	var out []domain.Deviation
	for _, rid := range selected {
		spec, ok := r.specs[rid]
		if !ok {
			continue
		}
		devs, err := spec.Eval(ctx, since, until, now)
		if err != nil {
			return nil, err
		}
		out = append(out, devs...)
	}
	return out, nil
}

// EvaluateForScheduler evaluates every rule with enabled_in_scheduler=true,
// each over its own per-rule lookback window [now-lookback, now). Mirrors
// evaluate_rules_for_scheduler.
func (r *Registry) EvaluateForScheduler(
	ctx context.Context, cfg *ruleconfig.RuleConfig, now time.Time,
) ([]domain.Deviation, error) {
	l := logger.Named("rules")
	var out []domain.Deviation
	for _, rid := range r.order {
		if !cfg.RuleEnabledInScheduler(rid) {
			continue
		}
		lookback := cfg.RuleLookbackMinutes(rid)
		since := now.Add(-time.Duration(lookback) * time.Minute)

		spec := r.specs[rid]
		devs, err := spec.Eval(ctx, since, now, now)
		if err != nil {
			l.Error().Err(err).Str("rule_id", rid).Msg("rule evaluation failed")
			return nil, err
		}
		out = append(out, devs...)
	}
	return out, nil
}
