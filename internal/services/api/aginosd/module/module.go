// Package module wires the aginosd API (C13) into the application using
// modkit, grounded on swearjar's stats module wiring shape.
package module

import (
	"net/http"
	"time"

	modkit "aginosd/internal/modkit"
	"aginosd/internal/modkit/httpkit"
	"aginosd/internal/platform/config/ruleconfig"
	str "aginosd/internal/platform/strings"

	aginosdhttp "aginosd/internal/services/api/aginosd/http"
	aginosdsvc "aginosd/internal/services/api/aginosd/service"

	erepo "aginosd/internal/services/events/repo"

	drepo "aginosd/internal/services/deviations/repo"

	rbundled "aginosd/internal/services/rules/bundled"
	rdom "aginosd/internal/services/rules/domain"
	rsvc "aginosd/internal/services/rules/service"

	arepo "aginosd/internal/services/anomalies/repo"

	prepo "aginosd/internal/services/proposals/repo"
	psvc "aginosd/internal/services/proposals/service"

	idom "aginosd/internal/services/insights/domain"
	irepo "aginosd/internal/services/insights/repo"
	isvc "aginosd/internal/services/insights/service"
	"aginosd/internal/services/insights/statsclient"

	odom "aginosd/internal/services/occupancy/domain"
	osvc "aginosd/internal/services/occupancy/service"

	"aginosd/internal/services/coldstore"
)

// Module implements the aginosd API module
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string

	mws       []func(http.Handler) http.Handler
	ports     any
	swaggerOn bool

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)

	svc aginosdsvc.Service
}

// New constructs the aginosd API module
func New(deps modkit.Deps, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("aginosd"), modkit.WithPrefix("/aginosd")}, opts...)...)

	eventReader := erepo.NewPG().Bind(deps.PG)
	eventWriter := erepo.NewWriterPG().Bind(deps.PG)

	deviations := drepo.NewPG(coldstore.New(deps.CH)).Bind(deps.PG)

	loc, _ := time.LoadLocation("Europe/Oslo")
	if loc == nil {
		loc = time.UTC
	}
	rc, err := ruleconfig.Load(deps.Cfg.MayString("RULES_CONFIG", "config/rules.yaml"))
	if err != nil {
		deps.Log.Warn().Err(err).Msg("ruleconfig.Load failed, falling back to rule defaults")
		rc = &ruleconfig.RuleConfig{}
	}
	nw := rc.NightWindowFor(rbundled.R002ID)
	nightWindow, err := rbundled.ParseClockWindow(loc, nw.StartLocalTime, nw.EndLocalTime)
	if err != nil {
		deps.Log.Warn().Err(err).Msg("invalid R-002 night_window, falling back to 23:00-06:00")
		nightWindow = rbundled.ClockWindow{StartHour: 23, EndHour: 6, Loc: loc}
	}
	followupWindow := time.Duration(rc.FollowupMinutesFor(rbundled.R003ID)) * time.Minute
	registry := rsvc.NewRegistry(
		rdom.RuleSpec{RuleID: rbundled.R001ID, Eval: rbundled.NewR001(eventReader), Description: "no motion in window"},
		rdom.RuleSpec{RuleID: rbundled.R002ID, Eval: rbundled.NewR002(eventReader, nightWindow), Description: "front door open at night"},
		rdom.RuleSpec{RuleID: rbundled.R003ID, Eval: rbundled.NewR003(eventReader, followupWindow), Description: "door opened, no motion afterward"},
	)

	anomalyQuery := arepo.NewQueryPG().Bind(deps.PG)
	proposalQuery := prepo.NewQueryPG().Bind(deps.PG)
	proposalLifecycle := psvc.NewLifecycle(deps.PG)

	insights := newInsightsReader(deps)

	occCfg := odom.DefaultConfig()
	occCfg.StrongRooms = deps.Cfg.MayCSV("AGINOSD_OCCUPANCY_STRONG_ROOMS", []string{"living_room"})
	occCfg.PrimaryRooms = deps.Cfg.MayCSV("AGINOSD_OCCUPANCY_PRIMARY_ROOMS", []string{"hallway"})
	occupancy := osvc.NewEstimator(occCfg)

	svc := aginosdsvc.New(eventWriter, eventReader, deviations, registry, anomalyQuery, proposalQuery, proposalLifecycle, insights, occupancy)

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		swaggerOn: b.SwaggerOn,
		subrouter: b.Subrouter,
		svc:       svc,
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		aginosdhttp.Register(r, m.svc)
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes mounts the module routes on the given router
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Middlewares returns the module middlewares
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }

// Ports returns the module's exported ports (none, for aginosd)
func (m *Module) Ports() any { return m.ports }

// newInsightsReader dials the auxiliary statistics service when an address
// is configured and a ClickHouse cache is available; otherwise Insights
// serves Unavailable rather than blocking module construction.
func newInsightsReader(deps modkit.Deps) idom.Reader {
	addr := deps.Cfg.MayString("INSIGHTS_ADDR", "")
	if addr == "" || deps.CH == nil {
		return nil
	}
	client, err := statsclient.Dial(addr)
	if err != nil {
		deps.Log.Warn().Err(err).Str("addr", addr).Msg("insights: dial failed, disabling proxy")
		return nil
	}
	cache := irepo.NewCache(deps.CH)
	return isvc.New(cache, client)
}
