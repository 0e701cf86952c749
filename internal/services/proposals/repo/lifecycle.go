package repo

import (
	stdsql "database/sql"
	"context"
	"errors"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/proposals/domain"
)

type lifecycleBinder struct{}

// NewLifecyclePG constructs a binder for the Postgres proposal lifecycle store
func NewLifecyclePG() repokit.Binder[LifecycleStore] { return lifecycleBinder{} }

// Bind implements repokit.Binder
func (lifecycleBinder) Bind(q repokit.Queryer) LifecycleStore { return &pgLifecycle{q: q} }

// LifecycleStore is the row-locked transition surface C10 depends on
type LifecycleStore interface {
	// Locked selects one proposal FOR UPDATE
	Locked(ctx context.Context, id uint64) (domain.Proposal, bool, error)

	// TestingExpiredLocked selects TESTING proposals whose test_until < now,
	// FOR UPDATE, ordered by test_until
	TestingExpiredLocked(ctx context.Context, now time.Time) ([]uint64, error)

	ApplyTransition(ctx context.Context, id uint64, action domain.Action, prev, next domain.State, actor *string, source, note string) error
}

type pgLifecycle struct{ q repokit.Queryer }

func (s *pgLifecycle) Locked(ctx context.Context, id uint64) (domain.Proposal, bool, error) {
	row := s.q.QueryRow(ctx, `
		SELECT proposal_id, org_id, subject_id, room_id, proposal_type, dedupe_key,
		       state, priority, test_started_at, test_until, activated_at, rejected_at,
		       last_actor, last_source, last_note
		FROM proposals WHERE proposal_id = $1
		FOR UPDATE
	`, id)

	var p domain.Proposal
	var state string
	var ptype string
	if err := row.Scan(
		&p.ProposalID, &p.OrgID, &p.SubjectID, &p.RoomID, &ptype, &p.DedupeKey,
		&state, &p.Priority, &p.TestStartedAt, &p.TestUntil, &p.ActivatedAt, &p.RejectedAt,
		&p.LastActor, &p.LastSource, &p.LastNote,
	); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.Proposal{}, false, nil
		}
		return domain.Proposal{}, false, err
	}
	p.State = domain.State(state)
	p.ProposalType = domain.ProposalType(ptype)
	return p, true, nil
}

func (s *pgLifecycle) TestingExpiredLocked(ctx context.Context, now time.Time) ([]uint64, error) {
	rows, err := s.q.Query(ctx, `
		SELECT proposal_id FROM proposals
		WHERE state = 'TESTING' AND test_until IS NOT NULL AND test_until < $1
		ORDER BY test_until ASC
		FOR UPDATE
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgLifecycle) ApplyTransition(
	ctx context.Context, id uint64, action domain.Action, prev, next domain.State, actor *string, source, note string,
) error {
	var testStartedAt, testUntil, activatedAt, rejectedAt *time.Time
	now := timeNow()

	switch action {
	case domain.ActionTest:
		testStartedAt = &now
		until := now.Add(7 * 24 * time.Hour)
		testUntil = &until
	case domain.ActionActivate:
		activatedAt = &now
	case domain.ActionReject:
		rejectedAt = &now
	case domain.ActionAutoExpireTest:
		// clears test window, no new timestamps set
	}

	if _, err := s.q.Exec(ctx, `
		UPDATE proposals
		SET state = $2,
		    test_started_at = CASE WHEN $3::timestamptz IS NOT NULL THEN $3 ELSE test_started_at END,
		    test_until = $4,
		    activated_at = CASE WHEN $5::timestamptz IS NOT NULL THEN $5 ELSE activated_at END,
		    rejected_at = CASE WHEN $6::timestamptz IS NOT NULL THEN $6 ELSE rejected_at END,
		    last_actor = $7, last_source = $8, last_note = $9
		WHERE proposal_id = $1
	`, id, string(next), testStartedAt, testUntil, activatedAt, rejectedAt, actor, source, note); err != nil {
		return err
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO proposal_actions (proposal_id, action, prev_state, new_state, actor, source, note, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}'::jsonb)
	`, id, string(action), string(prev), string(next), actor, source, note)
	return err
}

// timeNow is a seam so ApplyTransition's stamped timestamps are testable;
// production always uses the wall clock
var timeNow = func() time.Time { return time.Now().UTC() }
