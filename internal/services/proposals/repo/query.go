package repo

import (
	"context"
	"fmt"
	"strings"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/proposals/domain"
)

type queryBinder struct{}

// NewQueryPG constructs a binder for the Postgres proposal reader
func NewQueryPG() repokit.Binder[Query] { return queryBinder{} }

// Bind implements repokit.Binder
func (queryBinder) Bind(q repokit.Queryer) Query { return &pgQuery{q: q} }

// ListFilter narrows Query.List by subject and/or state; zero values mean "any"
type ListFilter struct {
	SubjectID string
	State     domain.State
}

// Query is the proposal read surface the API layer depends on
type Query interface {
	List(ctx context.Context, filter ListFilter) ([]domain.Proposal, error)
}

type pgQuery struct{ q repokit.Queryer }

func (s *pgQuery) List(ctx context.Context, filter ListFilter) ([]domain.Proposal, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`
		SELECT proposal_id, org_id, subject_id, room_id, proposal_type, dedupe_key,
		       state, priority, test_started_at, test_until, activated_at, rejected_at,
		       last_actor, last_source, last_note
		FROM proposals WHERE 1=1
	`)
	if filter.SubjectID != "" {
		sb.WriteString(" AND subject_id = " + arg(filter.SubjectID) + "\n")
	}
	if filter.State != "" {
		sb.WriteString(" AND state = " + arg(string(filter.State)) + "\n")
	}
	sb.WriteString(" ORDER BY priority DESC, proposal_id DESC")

	rows, err := s.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Proposal, 0, 32)
	for rows.Next() {
		var p domain.Proposal
		var state, ptype string
		if err := rows.Scan(
			&p.ProposalID, &p.OrgID, &p.SubjectID, &p.RoomID, &ptype, &p.DedupeKey,
			&state, &p.Priority, &p.TestStartedAt, &p.TestUntil, &p.ActivatedAt, &p.RejectedAt,
			&p.LastActor, &p.LastSource, &p.LastNote,
		); err != nil {
			return nil, err
		}
		p.State = domain.State(state)
		p.ProposalType = domain.ProposalType(ptype)
		out = append(out, p)
	}
	return out, rows.Err()
}
