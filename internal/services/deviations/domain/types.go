// Package domain defines the deviation store's persisted record and the
// upsert/sweep result shape, grounded on
// original_source/backend/services/deviation_store_v1.py.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the deviation lifecycle state
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusAck    Status = "ACK"
	StatusClosed Status = "CLOSED"
)

// Record is one persisted deviation row, keyed by (rule_id, subject_key)
type Record struct {
	DeviationID   uuid.UUID
	DeviationKey  string // rule_id + ":" + subject_key
	RuleID        string
	SubjectKey    string
	Status        Status
	Severity      string
	Title         string
	Explanation   string
	Evidence      []string
	WindowSince   time.Time
	WindowUntil   time.Time
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PersistResult tallies the outcome of an Upsert pass
type PersistResult struct {
	Created  int
	Updated  int
	Reopened int
}

// Input is one computed deviation ready to be persisted, the Go-side
// equivalent of the original's DeviationV1 pydantic model.
type Input struct {
	DeviationID uuid.UUID
	RuleID      string
	Severity    string
	Title       string
	Explanation string
	Evidence    []string
	WindowSince time.Time
	WindowUntil time.Time
}

// ListFilter narrows List by subject, rule, and/or status; zero values mean "any"
type ListFilter struct {
	SubjectKey string
	RuleID     string
	Status     Status
}

// Store is the deviation persistence port
type Store interface {
	// Upsert creates/updates/reopens a deviation row per (rule_id, subject_key).
	// ACK is preserved across updates; only CLOSED rows are reopened to OPEN.
	// Returns the tally and the set of deviation_keys seen this run.
	Upsert(ctx context.Context, deviations []Input, subjectKey string, now time.Time) (PersistResult, map[string]struct{}, error)

	// CloseStale closes OPEN/ACK rows for ruleIDs+subjectKey whose
	// last_seen_at predates now-expireAfter and that were not seen this run.
	CloseStale(ctx context.Context, subjectKey string, ruleIDs []string, seenKeys map[string]struct{}, now time.Time, expireAfterMinutes int) (int, error)

	// List returns deviations matching filter, newest first
	List(ctx context.Context, filter ListFilter) ([]Record, error)

	// Get returns one deviation by id
	Get(ctx context.Context, id uuid.UUID) (Record, bool, error)

	// SetStatus transitions a deviation's status (e.g. OPEN/ACK -> ACK/CLOSED)
	SetStatus(ctx context.Context, id uuid.UUID, status Status, now time.Time) (Record, bool, error)
}
