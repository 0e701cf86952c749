// Package http provides http transport for the aginosd API (C13)
package http

import (
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"aginosd/internal/modkit/httpkit"
	perr "aginosd/internal/platform/errors"
	"aginosd/internal/platform/validate"
	apidom "aginosd/internal/services/api/aginosd/domain"
	svc "aginosd/internal/services/api/aginosd/service"
	pdom "aginosd/internal/services/proposals/domain"
)

// Register mounts the aginosd API routes on the given router
func Register(r httpkit.Router, s svc.Service) {
	h := &handlers{svc: s}

	httpkit.PostJSON[apidom.IngestEventInput](r, "/event", h.ingestEvent)
	httpkit.Get(r, "/events", h.listEvents)

	httpkit.Get(r, "/deviations", h.listDeviations)
	httpkit.PatchJSON[apidom.PatchDeviationInput](r, "/deviations/{id}", h.patchDeviation)
	httpkit.Get(r, "/deviations/evaluate", h.evaluateDeviations)

	httpkit.Get(r, "/proposals", h.listProposals)
	httpkit.PostJSON[apidom.ProposalActionInput](r, "/proposals/{id}/test", h.proposalTest)
	httpkit.PostJSON[apidom.ProposalActionInput](r, "/proposals/{id}/activate", h.proposalActivate)
	httpkit.PostJSON[apidom.ProposalActionInput](r, "/proposals/{id}/reject", h.proposalReject)

	httpkit.Get(r, "/anomalies", h.listAnomalies)

	httpkit.Get(r, "/insights", h.insights)

	httpkit.Get(r, "/occupancy", h.occupancy)
}

type handlers struct{ svc svc.Service }

// swagger:route POST /event Events ingestEvent
// @Summary Ingest one sensor event
// @Tags Events
// @Accept json
// @Produce json
// @Param payload body domain.IngestEventInput true "Event"
// @Success 200 {object} httpkit.Envelope "ok"
// @Router /event [post]
func (h *handlers) ingestEvent(r *stdhttp.Request, in apidom.IngestEventInput) (any, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if err := h.svc.IngestEvent(r.Context(), in); err != nil {
		return nil, err
	}
	return struct {
		OK bool `json:"ok"`
	}{OK: true}, nil
}

// swagger:route GET /events Events listEvents
// @Summary List raw sensor events in a window
// @Tags Events
// @Produce json
// @Param since query string true "RFC3339 window start"
// @Param until query string false "RFC3339 window end, defaults to now"
// @Param room query string false "room filter"
// @Param category query string false "category filter"
// @Param limit query int false "row cap"
// @Success 200 {array} domain.Event "ok"
// @Router /events [get]
func (h *handlers) listEvents(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("since"))
	if err != nil {
		return nil, err
	}
	until, err := parseOptionalTime(q.Get("until"))
	if err != nil {
		return nil, err
	}
	limit, err := parseOptionalInt(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	return h.svc.ListEvents(r.Context(), apidom.ListEventsQuery{
		Since: since, Until: until, Room: q.Get("room"), Category: q.Get("category"), Limit: limit,
	})
}

// swagger:route GET /deviations Deviations listDeviations
// @Summary List persisted deviations
// @Tags Deviations
// @Produce json
// @Param subject_key query string false "subject key filter"
// @Param rule_id query string false "rule id filter"
// @Param status query string false "OPEN|ACK|CLOSED"
// @Success 200 {array} domain.Record "ok"
// @Router /deviations [get]
func (h *handlers) listDeviations(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	return h.svc.ListDeviations(r.Context(), apidom.ListDeviationsQuery{
		SubjectKey: q.Get("subject_key"), RuleID: q.Get("rule_id"), Status: q.Get("status"),
	})
}

// swagger:route PATCH /deviations/{id} Deviations patchDeviation
// @Summary Transition a deviation's status
// @Tags Deviations
// @Accept json
// @Produce json
// @Param id path string true "deviation id"
// @Param payload body domain.PatchDeviationInput true "new status"
// @Success 200 {object} domain.Record "ok"
// @Failure 404 {object} httpkit.Envelope "not found"
// @Router /deviations/{id} [patch]
func (h *handlers) patchDeviation(r *stdhttp.Request, in apidom.PatchDeviationInput) (any, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	return h.svc.PatchDeviation(r.Context(), id, in)
}

// swagger:route GET /deviations/evaluate Deviations evaluateDeviations
// @Summary Evaluate every rule over an ad hoc window without persisting
// @Tags Deviations
// @Produce json
// @Param since query string true "RFC3339 window start"
// @Param until query string false "RFC3339 window end, defaults to now"
// @Success 200 {array} object "ok"
// @Router /deviations/evaluate [get]
func (h *handlers) evaluateDeviations(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("since"))
	if err != nil {
		return nil, err
	}
	until, err := parseOptionalTime(q.Get("until"))
	if err != nil {
		return nil, err
	}
	return h.svc.EvaluateDeviations(r.Context(), apidom.EvaluateDeviationsQuery{Since: since, Until: until})
}

// swagger:route GET /proposals Proposals listProposals
// @Summary List mined proposals
// @Tags Proposals
// @Produce json
// @Param subject_id query string false "subject id filter"
// @Param state query string false "NEW|TESTING|ACTIVE|REJECTED"
// @Success 200 {array} domain.Proposal "ok"
// @Router /proposals [get]
func (h *handlers) listProposals(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	return h.svc.ListProposals(r.Context(), apidom.ListProposalsQuery{SubjectID: q.Get("subject_id"), State: q.Get("state")})
}

func (h *handlers) proposalAction(r *stdhttp.Request, in apidom.ProposalActionInput, action pdom.Action) (any, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return h.svc.ProposalAction(r.Context(), id, action, in)
}

// swagger:route POST /proposals/{id}/test Proposals proposalTest
// @Summary Move a proposal from NEW to TESTING
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path int true "proposal id"
// @Param payload body domain.ProposalActionInput false "actor/note"
// @Success 200 {object} domain.Proposal "ok"
// @Router /proposals/{id}/test [post]
func (h *handlers) proposalTest(r *stdhttp.Request, in apidom.ProposalActionInput) (any, error) {
	return h.proposalAction(r, in, pdom.ActionTest)
}

// swagger:route POST /proposals/{id}/activate Proposals proposalActivate
// @Summary Activate a proposal
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path int true "proposal id"
// @Param payload body domain.ProposalActionInput false "actor/note"
// @Success 200 {object} domain.Proposal "ok"
// @Router /proposals/{id}/activate [post]
func (h *handlers) proposalActivate(r *stdhttp.Request, in apidom.ProposalActionInput) (any, error) {
	return h.proposalAction(r, in, pdom.ActionActivate)
}

// swagger:route POST /proposals/{id}/reject Proposals proposalReject
// @Summary Reject a proposal
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path int true "proposal id"
// @Param payload body domain.ProposalActionInput false "actor/note"
// @Success 200 {object} domain.Proposal "ok"
// @Router /proposals/{id}/reject [post]
func (h *handlers) proposalReject(r *stdhttp.Request, in apidom.ProposalActionInput) (any, error) {
	return h.proposalAction(r, in, pdom.ActionReject)
}

// swagger:route GET /anomalies Anomalies listAnomalies
// @Summary List anomaly episodes
// @Tags Anomalies
// @Produce json
// @Param room query string false "room filter"
// @Param active query bool false "active episodes only"
// @Param last query string false "lookback duration, e.g. 24h"
// @Param min_level query string false "GREEN|YELLOW|RED, minimum severity"
// @Param limit query int false "row cap"
// @Success 200 {array} domain.Episode "ok"
// @Router /anomalies [get]
func (h *handlers) listAnomalies(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	active, _ := strconv.ParseBool(q.Get("active"))
	var last time.Duration
	if s := q.Get("last"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, perr.InvalidArgf("last: %s", err)
		}
		last = d
	}
	limit, err := parseOptionalInt(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	return h.svc.ListAnomalies(r.Context(), apidom.ListAnomaliesQuery{
		Room: q.Get("room"), Active: active, Last: last, MinLevel: q.Get("min_level"), Limit: limit,
	})
}

// swagger:route GET /insights Insights insights
// @Summary Night/morning activity summary for a room, proxied from the
// @Summary auxiliary statistics service with a ClickHouse read-through cache
// @Tags Insights
// @Produce json
// @Param room query string true "room"
// @Param since query string true "RFC3339 window start"
// @Param until query string false "RFC3339 window end, defaults to now"
// @Success 200 {object} domain.Insight "ok"
// @Failure 502 {object} httpkit.Envelope "auxiliary service unavailable"
// @Router /insights [get]
func (h *handlers) insights(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	room := q.Get("room")
	if room == "" {
		return nil, perr.InvalidArgf("room is required")
	}
	since, err := parseTime(q.Get("since"))
	if err != nil {
		return nil, err
	}
	until, err := parseOptionalTime(q.Get("until"))
	if err != nil {
		return nil, err
	}
	return h.svc.Insights(r.Context(), apidom.InsightsQuery{Room: room, Since: since, Until: until})
}

// swagger:route GET /occupancy Occupancy occupancy
// @Summary Estimate HOME/AWAY/UNKNOWN occupancy for a room from recent
// @Summary door and presence events
// @Tags Occupancy
// @Produce json
// @Param room query string true "room"
// @Param since query string false "RFC3339 lookback start, defaults to the estimator's configured window"
// @Success 200 {object} domain.Estimate "ok"
// @Router /occupancy [get]
func (h *handlers) occupancy(r *stdhttp.Request) (any, error) {
	q := r.URL.Query()
	room := q.Get("room")
	if room == "" {
		return nil, perr.InvalidArgf("room is required")
	}
	since, err := parseOptionalTime(q.Get("since"))
	if err != nil {
		return nil, err
	}
	return h.svc.Occupancy(r.Context(), apidom.OccupancyQuery{Room: room, Since: since})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, perr.InvalidArgf("since is required")
	}
	return time.Parse(time.RFC3339, s)
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
