// Package service wires the external HTTP boundary (C13) to the event,
// deviation, proposal, and anomaly ports, grounded on
// swearjar's stats service thin passthrough shape.
package service

import (
	"context"
	"errors"
	"time"

	perr "aginosd/internal/platform/errors"

	apidom "aginosd/internal/services/api/aginosd/domain"

	edom "aginosd/internal/services/events/domain"

	ddom "aginosd/internal/services/deviations/domain"
	rsvc "aginosd/internal/services/rules/service"

	adom "aginosd/internal/services/anomalies/domain"
	arepo "aginosd/internal/services/anomalies/repo"

	pdom "aginosd/internal/services/proposals/domain"
	prepo "aginosd/internal/services/proposals/repo"
	psvc "aginosd/internal/services/proposals/service"

	idom "aginosd/internal/services/insights/domain"

	odom "aginosd/internal/services/occupancy/domain"
	osvc "aginosd/internal/services/occupancy/service"

	"github.com/google/uuid"
)

// Service defines the aginosd API's operations
type Service interface {
	IngestEvent(ctx context.Context, in apidom.IngestEventInput) error
	ListEvents(ctx context.Context, q apidom.ListEventsQuery) ([]edom.Event, error)

	ListDeviations(ctx context.Context, q apidom.ListDeviationsQuery) ([]ddom.Record, error)
	PatchDeviation(ctx context.Context, id uuid.UUID, in apidom.PatchDeviationInput) (ddom.Record, error)
	EvaluateDeviations(ctx context.Context, q apidom.EvaluateDeviationsQuery) ([]rsvcDeviation, error)

	ListProposals(ctx context.Context, q apidom.ListProposalsQuery) ([]pdom.Proposal, error)
	ProposalAction(ctx context.Context, id uint64, action pdom.Action, in apidom.ProposalActionInput) (pdom.Proposal, error)

	ListAnomalies(ctx context.Context, q apidom.ListAnomaliesQuery) ([]adom.Episode, error)

	Insights(ctx context.Context, q apidom.InsightsQuery) (idom.Insight, error)

	Occupancy(ctx context.Context, q apidom.OccupancyQuery) (odom.Estimate, error)
}

// rsvcDeviation is the ad hoc evaluation's return shape: a local struct
// copying the rule engine's deviation fields, with Severity as a plain string
type rsvcDeviation = struct {
	RuleID      string
	Severity    string
	Title       string
	Explanation string
	Evidence    []string
}

// ErrNotFound signals a missing deviation or proposal
var ErrNotFound = errors.New("aginosd api: not found")

// Svc implements Service
type Svc struct {
	Writer   edom.WriterPort
	Reader   edom.ReaderPort
	Deviations ddom.Store
	Registry *rsvc.Registry

	AnomalyQuery arepo.Query

	ProposalQuery     prepo.Query
	ProposalLifecycle *psvc.Lifecycle

	InsightsReader idom.Reader

	OccupancyEstimator *osvc.Estimator

	EventLimit int
	// OccupancyLookback bounds how far back Occupancy replays events when
	// the caller doesn't supply since
	OccupancyLookback time.Duration
}

// New constructs the aginosd API service from its already-bound ports.
// insights may be nil when the auxiliary statistics service isn't
// configured; Insights then returns an Unavailable error.
func New(
	writer edom.WriterPort, reader edom.ReaderPort, deviations ddom.Store, registry *rsvc.Registry,
	anomalyQuery arepo.Query, proposalQuery prepo.Query, proposalLifecycle *psvc.Lifecycle,
	insights idom.Reader, occupancy *osvc.Estimator,
) *Svc {
	return &Svc{
		Writer: writer, Reader: reader, Deviations: deviations, Registry: registry,
		AnomalyQuery: anomalyQuery, ProposalQuery: proposalQuery, ProposalLifecycle: proposalLifecycle,
		InsightsReader:     insights,
		OccupancyEstimator: occupancy,
		EventLimit:         1000,
		OccupancyLookback: 24 * time.Hour,
	}
}

// IngestEvent persists one freshly arrived sensor reading
func (s *Svc) IngestEvent(ctx context.Context, in apidom.IngestEventInput) error {
	return s.Writer.Write(ctx, edom.Event{
		Timestamp: in.Timestamp.UTC(),
		Category:  edom.Category(in.Category),
		Room:      in.Room,
		EntityID:  in.EntityID,
		Payload:   in.Payload,
	})
}

// ListEvents reads raw events in [since, until), optionally filtered
func (s *Svc) ListEvents(ctx context.Context, q apidom.ListEventsQuery) ([]edom.Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > s.EventLimit {
		limit = s.EventLimit
	}
	until := q.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	return s.Reader.Query(ctx, q.Since, until, edom.Filter{Category: edom.Category(q.Category), Room: q.Room}, limit)
}

// ListDeviations lists persisted deviations matching q
func (s *Svc) ListDeviations(ctx context.Context, q apidom.ListDeviationsQuery) ([]ddom.Record, error) {
	return s.Deviations.List(ctx, ddom.ListFilter{SubjectKey: q.SubjectKey, RuleID: q.RuleID, Status: ddom.Status(q.Status)})
}

// PatchDeviation transitions a deviation's status (e.g. acknowledging it)
func (s *Svc) PatchDeviation(ctx context.Context, id uuid.UUID, in apidom.PatchDeviationInput) (ddom.Record, error) {
	rec, ok, err := s.Deviations.SetStatus(ctx, id, ddom.Status(in.Status), time.Now().UTC())
	if err != nil {
		return ddom.Record{}, err
	}
	if !ok {
		return ddom.Record{}, perr.NotFoundf("deviation %s not found", id)
	}
	return rec, nil
}

// EvaluateDeviations runs the full rule registry over an ad hoc window,
// without persisting anything; mirrors the original's evaluate_rules used
// for interactive/manual inspection.
func (s *Svc) EvaluateDeviations(ctx context.Context, q apidom.EvaluateDeviationsQuery) ([]rsvcDeviation, error) {
	until := q.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	devs, err := s.Registry.EvaluateRules(ctx, q.Since, until, until)
	if err != nil {
		return nil, err
	}
	out := make([]rsvcDeviation, 0, len(devs))
	for _, d := range devs {
		out = append(out, rsvcDeviation{
			RuleID: d.RuleID, Severity: string(d.Severity), Title: d.Title,
			Explanation: d.Explanation, Evidence: d.Evidence,
		})
	}
	return out, nil
}

// ListProposals lists mined proposals matching q
func (s *Svc) ListProposals(ctx context.Context, q apidom.ListProposalsQuery) ([]pdom.Proposal, error) {
	return s.ProposalQuery.List(ctx, prepo.ListFilter{SubjectID: q.SubjectID, State: pdom.State(q.State)})
}

// ProposalAction applies a TEST/ACTIVATE/REJECT transition to one proposal
func (s *Svc) ProposalAction(ctx context.Context, id uint64, action pdom.Action, in apidom.ProposalActionInput) (pdom.Proposal, error) {
	var actor *string
	if in.Actor != "" {
		actor = &in.Actor
	}
	p, err := s.ProposalLifecycle.Apply(ctx, id, action, actor, "api", in.Note)
	if err != nil {
		if errors.Is(err, psvc.ErrNotFound) {
			return pdom.Proposal{}, perr.NotFoundf("proposal %d not found", id)
		}
		return pdom.Proposal{}, err
	}
	return p, nil
}

// ListAnomalies lists anomaly episodes matching q
func (s *Svc) ListAnomalies(ctx context.Context, q apidom.ListAnomaliesQuery) ([]adom.Episode, error) {
	var since time.Time
	if q.Last > 0 {
		since = time.Now().UTC().Add(-q.Last)
	}
	return s.AnomalyQuery.List(ctx, arepo.ListFilter{
		Room: q.Room, ActiveOnly: q.Active,
		Since: since, MinLevel: adom.Level(q.MinLevel), Limit: q.Limit,
	})
}

// Insights proxies a night/morning activity summary from the auxiliary
// statistics service, read-through cached; it fails soft with an
// Unavailable error rather than a panic when no upstream is wired.
func (s *Svc) Insights(ctx context.Context, q apidom.InsightsQuery) (idom.Insight, error) {
	if s.InsightsReader == nil {
		return idom.Insight{}, perr.Unavailablef("insights: auxiliary service not configured")
	}
	until := q.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	return s.InsightsReader.NightMorningInsights(ctx, q.Room, q.Since, until)
}

// Occupancy replays recent door+presence events for a room through C12's
// estimator and returns the resulting HOME/AWAY/UNKNOWN state.
func (s *Svc) Occupancy(ctx context.Context, q apidom.OccupancyQuery) (odom.Estimate, error) {
	if s.OccupancyEstimator == nil {
		return odom.Estimate{}, perr.Unavailablef("occupancy: estimator not configured")
	}
	now := time.Now().UTC()
	since := q.Since
	if since.IsZero() {
		since = now.Add(-s.OccupancyLookback)
	}
	events, err := s.Reader.Query(ctx, since, now, edom.Filter{Room: q.Room}, s.EventLimit)
	if err != nil {
		return odom.Estimate{}, err
	}
	var lastHeartbeat *time.Time
	if len(events) > 0 {
		ts := events[len(events)-1].Timestamp
		lastHeartbeat = &ts
	}
	return s.OccupancyEstimator.Estimate(events, lastHeartbeat, now), nil
}
