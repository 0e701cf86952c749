package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aginosd/internal/platform/config"
	"aginosd/internal/platform/config/ruleconfig"
	"aginosd/internal/platform/logger"
	"aginosd/internal/platform/store"

	rbundled "aginosd/internal/services/rules/bundled"
	rdom "aginosd/internal/services/rules/domain"
	rsvc "aginosd/internal/services/rules/service"

	drepo "aginosd/internal/services/deviations/repo"

	erepo "aginosd/internal/services/events/repo"

	anomsvc "aginosd/internal/services/anomalies/service"
	brepo "aginosd/internal/services/baselines/repo"

	"aginosd/internal/services/coldstore"

	psvc "aginosd/internal/services/proposals/service"

	"aginosd/internal/services/scheduler/monitormode"
	srepo "aginosd/internal/services/scheduler/repo"
	ssvc "aginosd/internal/services/scheduler/service"
)

func main() {
	_ = godotenv.Load()

	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CH_")
	schedCfg := root.Prefix("SCHEDULER_")

	l := logger.Get()

	dsn := dbCfg.MayString("DBURL", "")
	if dsn == "" {
		panic("missing SERVICE_PGSQL_DBURL")
	}
	st, err := store.Open(
		context.Background(),
		store.Config{
			PG: store.PGConfig{
				Enabled:     true,
				URL:         dsn,
				MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 4)),
				SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
				LogSQL:      dbCfg.MayBool("LOG_SQL", false),
			},
			CH: store.CHConfig{
				Enabled: chCfg.MayBool("ENABLED", false),
				URL:     chCfg.MayString("URL", ""),
			},
		},
		store.WithLogger(*l),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	rc, err := ruleconfig.Load(schedCfg.MayString("RULES_CONFIG", "config/rules.yaml"))
	if err != nil {
		l.Panic().Err(err).Msg("ruleconfig.Load failed")
	}

	cold := coldstore.New(st.CH)

	eventReader := erepo.NewPG().Bind(st.PG)
	devStore := drepo.NewPG(cold).Bind(st.PG)

	loc, _ := time.LoadLocation("Europe/Oslo")
	if loc == nil {
		loc = time.UTC
	}
	nw := rc.NightWindowFor(rbundled.R002ID)
	nightWindow, err := rbundled.ParseClockWindow(loc, nw.StartLocalTime, nw.EndLocalTime)
	if err != nil {
		l.Warn().Err(err).Msg("invalid R-002 night_window, falling back to 23:00-06:00")
		nightWindow = rbundled.ClockWindow{StartHour: 23, EndHour: 6, Loc: loc}
	}
	followupWindow := time.Duration(rc.FollowupMinutesFor(rbundled.R003ID)) * time.Minute
	registry := rsvc.NewRegistry(
		rdom.RuleSpec{RuleID: rbundled.R001ID, Eval: rbundled.NewR001(eventReader), Description: "no motion in window"},
		rdom.RuleSpec{RuleID: rbundled.R002ID, Eval: rbundled.NewR002(eventReader, nightWindow), Description: "front door open at night"},
		rdom.RuleSpec{RuleID: rbundled.R003ID, Eval: rbundled.NewR003(eventReader, followupWindow), Description: "door opened, no motion afterward"},
	)

	monitor := monitormode.NewPG().Bind(st.PG)

	baselines := brepo.NewPG().Bind(st.PG)
	scorer := anomsvc.NewScorer(baselines)
	anomalyLifecycle := anomsvc.NewLifecycle(st.PG)
	anomalyLifecycle.Cold = cold
	rooms := srepo.NewRoomsPG().Bind(st.PG)

	proposalsMiner := psvc.NewMiner(st.PG)
	proposalsLifecycle := psvc.NewLifecycle(st.PG)

	statusStore := srepo.NewPG().Bind(st.PG)

	runner := ssvc.NewRunner(ssvc.Config{
		IntervalMinutes:        schedCfg.MayInt("INTERVAL_MINUTES", rc.Scheduler.IntervalMinutes),
		ProposalsMinerInterval: time.Duration(rc.Scheduler.ProposalsMinerHour) * time.Hour,
		ExpirySweepInterval:    time.Duration(rc.Scheduler.ExpirySweepMinutes) * time.Minute,
		Loc:                    loc,
	}, statusStore)
	runner.RuleConfig = rc
	runner.Registry = registry
	runner.DevStore = devStore
	runner.Monitor = monitor
	runner.Scorer = scorer
	runner.Lifecycle = anomalyLifecycle
	runner.Baselines = baselines
	runner.Rooms = rooms
	runner.ProposalsMiner = proposalsMiner
	runner.ProposalsLifecycle = proposalsLifecycle

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l.Info().Msg("scheduler starting")
	runner.Start(ctx)
	l.Info().Msg("scheduler stopped")
}
