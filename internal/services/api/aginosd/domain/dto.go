// Package domain defines the aginosd API's request/response DTOs
package domain

import "time"

// IngestEventInput is the POST /event payload
type IngestEventInput struct {
	Timestamp time.Time      `json:"timestamp" validate:"required"`
	Category  string         `json:"category" validate:"required,oneof=motion door presence"`
	Room      string         `json:"room" validate:"required"`
	EntityID  string         `json:"entity_id" validate:"required"`
	Payload   map[string]any `json:"payload"`
}

// ListEventsQuery is the GET /events query, parsed from the URL by hand
// (these are plain query params, not a JSON body)
type ListEventsQuery struct {
	Since    time.Time
	Until    time.Time
	Room     string
	Category string
	Limit    int
}

// ListDeviationsQuery is the GET /deviations query
type ListDeviationsQuery struct {
	SubjectKey string
	RuleID     string
	Status     string
}

// PatchDeviationInput is the PATCH /deviations/{id} payload
type PatchDeviationInput struct {
	Status string `json:"status" validate:"required,oneof=OPEN ACK CLOSED"`
}

// EvaluateDeviationsQuery is the GET /deviations/evaluate query
type EvaluateDeviationsQuery struct {
	Since time.Time
	Until time.Time
}

// ListProposalsQuery is the GET /proposals query
type ListProposalsQuery struct {
	SubjectID string
	State     string
}

// ProposalActionInput is the POST /proposals/{id}/{action} payload
type ProposalActionInput struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// ListAnomaliesQuery is the GET /anomalies query
type ListAnomaliesQuery struct {
	Room     string
	Active   bool
	Last     time.Duration
	MinLevel string
	Limit    int
}

// InsightsQuery is the GET /insights query
type InsightsQuery struct {
	Room  string
	Since time.Time
	Until time.Time
}

// OccupancyQuery is the GET /occupancy query
type OccupancyQuery struct {
	Room  string
	Since time.Time
}
