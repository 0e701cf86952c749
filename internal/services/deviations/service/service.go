// Package service wires rule evaluation into the deviation store, grounded
// on original_source/backend/services/scheduler.py's run_rule_engine_job
// (persist-on-a-cadence shape) combined with deviation_store_v1.py's
// upsert/close_stale pairing.
package service

import (
	"context"
	"time"

	"aginosd/internal/platform/config/ruleconfig"
	"aginosd/internal/platform/logger"
	ddom "aginosd/internal/services/deviations/domain"
	rdom "aginosd/internal/services/rules/domain"
	rsvc "aginosd/internal/services/rules/service"

	"github.com/google/uuid"
)

// Service runs the scheduler-facing rule pass and persists its output
type Service struct {
	Registry *rsvc.Registry
	Store    ddom.Store
	Cfg      *ruleconfig.RuleConfig
}

// New constructs a deviations Service
func New(registry *rsvc.Registry, store ddom.Store, cfg *ruleconfig.RuleConfig) *Service {
	if registry == nil || store == nil || cfg == nil {
		panic("deviations.Service requires a non nil registry, store, and config")
	}
	return &Service{Registry: registry, Store: store, Cfg: cfg}
}

// RunOnce evaluates every scheduler-enabled rule and persists the resulting
// deviations: upsert first, then sweep stale rows for the same rule set, so
// a rule that stops firing closes its own open deviation after its
// configured expire_after_minutes.
func (s *Service) RunOnce(ctx context.Context, now time.Time) (ddom.PersistResult, error) {
	l := logger.Named("deviations")
	subjectKey := s.Cfg.Scheduler.DefaultSubjectKey

	devs, err := s.Registry.EvaluateForScheduler(ctx, s.Cfg, now)
	if err != nil {
		return ddom.PersistResult{}, err
	}

	inputs := make([]ddom.Input, 0, len(devs))
	for _, d := range devs {
		inputs = append(inputs, toInput(d))
	}

	result, seen, err := s.Store.Upsert(ctx, inputs, subjectKey, now)
	if err != nil {
		return result, err
	}

	ruleIDs := s.Registry.IDs()
	for _, rid := range ruleIDs {
		if !s.Cfg.RuleEnabledInScheduler(rid) {
			continue
		}
		closed, err := s.Store.CloseStale(ctx, subjectKey, []string{rid}, seen, now, s.Cfg.RuleExpireAfterMinutes(rid))
		if err != nil {
			l.Error().Err(err).Str("rule_id", rid).Msg("close stale deviations failed")
			return result, err
		}
		if closed > 0 {
			l.Info().Str("rule_id", rid).Int("closed", closed).Msg("closed stale deviations")
		}
	}

	l.Info().Int("created", result.Created).Int("updated", result.Updated).Int("reopened", result.Reopened).
		Msg("deviations run complete")
	return result, nil
}

func toInput(d rdom.Deviation) ddom.Input {
	return ddom.Input{
		DeviationID: uuid.New(),
		RuleID:      d.RuleID,
		Severity:    string(d.Severity),
		Title:       d.Title,
		Explanation: d.Explanation,
		Evidence:    d.Evidence,
		WindowSince: d.Window.Since,
		WindowUntil: d.Window.Until,
	}
}
