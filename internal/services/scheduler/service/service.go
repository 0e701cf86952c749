// Package service implements C11: three periodic jobs (rule engine,
// anomalies, proposals) run with per-job error isolation, grounded on
// nightshift's ApplyHour/Lease ticker-and-ledger idiom and on
// original_source/backend/services/scheduler.py's job shape (max_instances=1,
// coalesce, catch-log-continue). This is the canonical scheduler variant
// spec.md's Open Question resolves in favor of: per-rule-serialized,
// MonitorMode-aware, stale-sweeping.
package service

import (
	"context"
	"sync"
	"time"

	ptime "aginosd/internal/platform/time"

	"aginosd/internal/platform/config/ruleconfig"
	"aginosd/internal/platform/logger"

	ddom "aginosd/internal/services/deviations/domain"
	rdom "aginosd/internal/services/rules/domain"
	rsvc "aginosd/internal/services/rules/service"

	anomsvc "aginosd/internal/services/anomalies/service"
	bdom "aginosd/internal/services/baselines/domain"

	psvc "aginosd/internal/services/proposals/service"

	"aginosd/internal/services/scheduler/domain"
	"aginosd/internal/services/scheduler/monitormode"

	"github.com/google/uuid"
)

// RoomLister enumerates rooms known to the latest baseline, for C11's
// per-room anomaly scoring pass
type RoomLister interface {
	RoomsWithBaseline(ctx context.Context, modelEnd time.Time) ([]string, error)
}

// Config bundles the scheduler's periodic timings
type Config struct {
	IntervalMinutes        int
	ProposalsMinerInterval time.Duration
	ExpirySweepInterval    time.Duration
	Loc                    *time.Location
}

// Runner owns the scheduler's ticking goroutines and job status
type Runner struct {
	RuleConfig *ruleconfig.RuleConfig
	Registry   *rsvc.Registry
	DevStore   ddom.Store
	Monitor    monitormode.Reader

	Scorer    *anomsvc.Scorer
	Lifecycle *anomsvc.Lifecycle
	Baselines bdom.Reader
	Rooms     RoomLister

	ProposalsMiner     *psvc.Miner
	ProposalsLifecycle *psvc.Lifecycle

	StatusStore domain.StatusStore

	Cfg Config

	mu       sync.Mutex
	statuses map[domain.JobKey]*domain.Status
}

// NewRunner constructs a Runner; every field above should be wired before
// calling Start
func NewRunner(cfg Config, statusStore domain.StatusStore) *Runner {
	if cfg.Loc == nil {
		loc, _ := time.LoadLocation("Europe/Oslo")
		if loc == nil {
			loc = time.UTC
		}
		cfg.Loc = loc
	}
	return &Runner{Cfg: cfg, StatusStore: statusStore, statuses: map[domain.JobKey]*domain.Status{}}
}

// Start launches the four job loops and blocks until ctx is cancelled
func (r *Runner) Start(ctx context.Context) {
	interval := time.Duration(r.Cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go r.loop(ctx, &wg, interval, domain.JobRuleEngine, r.runRuleEngine)
	go r.loop(ctx, &wg, interval, domain.JobAnomalies, r.runAnomalies)
	go r.loop(ctx, &wg, r.Cfg.ExpirySweepInterval, domain.JobExpirySweep, r.runExpirySweep)

	// proposals miner runs on its own, much longer cadence
	wg.Add(1)
	go r.loop(ctx, &wg, r.Cfg.ProposalsMinerInterval, domain.JobProposals, r.runProposalsMiner)

	wg.Wait()
}

// loop runs fn every period, serialized (max_instances=1, coalesce=true):
// a tick is skipped entirely if the previous run hasn't finished
func (r *Runner) loop(ctx context.Context, wg *sync.WaitGroup, period time.Duration, job domain.JobKey, fn func(context.Context, time.Time) (map[string]any, error)) {
	defer wg.Done()
	if period <= 0 {
		period = time.Minute
	}
	var running sync.Mutex
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if !running.TryLock() {
				continue
			}
			r.runJob(ctx, job, now, fn)
			running.Unlock()
		}
	}
}

func (r *Runner) runJob(ctx context.Context, job domain.JobKey, now time.Time, fn func(context.Context, time.Time) (map[string]any, error)) {
	l := logger.Named("scheduler").With().Str("job", string(job)).Logger()

	payload, err := func() (payload map[string]any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = panicErr(rec)
			}
		}()
		return fn(ctx, now)
	}()

	st := r.statusFor(job)
	st.LastRunAt = now
	if err != nil {
		st.LastErrorAt = ptime.Ptr(now)
		st.LastErrorMsg = err.Error()
		l.Error().Err(err).Msg("scheduler job failed")
	} else {
		st.LastOKAt = ptime.Ptr(now)
		st.LastPayload = payload
		l.Info().Msg("scheduler job ok")
	}

	if r.StatusStore != nil {
		_ = r.StatusStore.Set(ctx, job, err == nil, now, payload, errMsg(err))
	}
}

func (r *Runner) statusFor(job domain.JobKey) *domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[job]
	if !ok {
		st = &domain.Status{JobKey: job}
		r.statuses[job] = st
	}
	return st
}

// Status returns a snapshot of one job's bookkeeping
func (r *Runner) Status(job domain.JobKey) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.statuses[job]; ok {
		return *st
	}
	return domain.Status{JobKey: job}
}

// runRuleEngine evaluates every scheduler-enabled rule in its own lookback
// window, honoring MonitorMode, then sweeps stale deviations
func (r *Runner) runRuleEngine(ctx context.Context, now time.Time) (map[string]any, error) {
	l := logger.Named("scheduler.rule_engine")
	subjectKey := r.RuleConfig.Scheduler.DefaultSubjectKey

	var inputs []ddom.Input
	seenRules := r.Registry.IDs()
	for _, ruleID := range seenRules {
		if !r.RuleConfig.RuleEnabledInScheduler(ruleID) {
			continue
		}
		lookback := time.Duration(r.RuleConfig.RuleLookbackMinutes(ruleID)) * time.Minute
		since := now.Add(-lookback)

		mode := monitormode.ModeOn
		if r.Monitor != nil {
			m, err := r.Monitor.Mode(ctx, ruleID, monitormode.GlobalRoom)
			if err == nil {
				mode = m
			}
		}
		if mode == monitormode.ModeOff {
			continue
		}

		devs, err := r.Registry.EvaluateRules(ctx, since, now, now, ruleID)
		if err != nil {
			l.Error().Err(err).Str("rule_id", ruleID).Msg("rule evaluation failed")
			continue
		}
		for _, d := range devs {
			in := toDeviationInput(d)
			if mode == monitormode.ModeTest {
				in.Evidence = append(in.Evidence, "_monitor_mode:TEST")
			}
			inputs = append(inputs, in)
		}
	}

	result, seen, err := r.DevStore.Upsert(ctx, inputs, subjectKey, now)
	if err != nil {
		return nil, err
	}

	for _, ruleID := range seenRules {
		if !r.RuleConfig.RuleEnabledInScheduler(ruleID) {
			continue
		}
		if _, err := r.DevStore.CloseStale(ctx, subjectKey, []string{ruleID}, seen, now, r.RuleConfig.RuleExpireAfterMinutes(ruleID)); err != nil {
			l.Error().Err(err).Str("rule_id", ruleID).Msg("close stale deviations failed")
		}
	}

	return map[string]any{"created": result.Created, "updated": result.Updated, "reopened": result.Reopened}, nil
}

func toDeviationInput(d rdom.Deviation) ddom.Input {
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

// runAnomalies scores the single latest finished 15-minute bucket
// (Europe/Oslo aligned) for every room known in the latest baseline;
// per-room failures never abort the run
func (r *Runner) runAnomalies(ctx context.Context, now time.Time) (map[string]any, error) {
	l := logger.Named("scheduler.anomalies")

	modelStatus, ok, err := r.Baselines.LatestModelEnd(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"rooms": 0, "note": "no baseline model"}, nil
	}

	bucketStart := ptime.LastFinishedBucket(now, r.Cfg.Loc)

	rooms, err := r.Rooms.RoomsWithBaseline(ctx, modelStatus.ModelEnd)
	if err != nil {
		return nil, err
	}

	scored, failed := 0, 0
	for _, room := range rooms {
		bucket, err := r.Scorer.Score(ctx, room, bucketStart)
		if err != nil {
			failed++
			l.Error().Err(err).Str("room", room).Msg("anomaly scoring failed")
			continue
		}
		if _, err := r.Lifecycle.Upsert(ctx, now, bucket); err != nil {
			failed++
			l.Error().Err(err).Str("room", room).Msg("anomaly episode upsert failed")
			continue
		}
		scored++
	}

	return map[string]any{"rooms_scored": scored, "rooms_failed": failed, "bucket_start": bucketStart}, nil
}

func (r *Runner) runProposalsMiner(ctx context.Context, now time.Time) (map[string]any, error) {
	result, err := r.ProposalsMiner.Run(ctx, now)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"night": result.NightUpserts, "door": result.DoorUpserts,
		"bootstrap": result.BootstrapUpserts, "night_room": result.NightRoomUpserts,
	}, nil
}

func (r *Runner) runExpirySweep(ctx context.Context, now time.Time) (map[string]any, error) {
	n, err := r.ProposalsLifecycle.AutoExpireTesting(ctx, now)
	if err != nil {
		return nil, err
	}
	return map[string]any{"expired": n}, nil
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func panicErr(rec any) error {
	return &recoveredPanic{rec: rec}
}

type recoveredPanic struct{ rec any }

func (p *recoveredPanic) Error() string {
	return "scheduler: job panicked: " + toString(p.rec)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}
