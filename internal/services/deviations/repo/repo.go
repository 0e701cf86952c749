// Package repo provides the Postgres-backed deviation store, grounded on
// original_source/backend/services/deviation_store_v1.py and the
// ON CONFLICT upsert idiom in swearjar's bouncer repo.
package repo

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/platform/store"
	"aginosd/internal/services/coldstore"
	"aginosd/internal/services/deviations/domain"

	"github.com/google/uuid"
)

type binder struct{ cold *coldstore.Sink }

// NewPG constructs a binder for the Postgres deviation store. cold may be
// nil, in which case closed deviations are never archived to ClickHouse.
func NewPG(cold *coldstore.Sink) repokit.Binder[domain.Store] { return binder{cold: cold} }

// Bind implements repokit.Binder
func (b binder) Bind(q repokit.Queryer) domain.Store { return &pg{q: q, cold: b.cold} }

type pg struct {
	q    repokit.Queryer
	cold *coldstore.Sink
}

func deviationKey(ruleID, subjectKey string) string { return ruleID + ":" + subjectKey }

// Upsert implements domain.Store.Upsert
func (s *pg) Upsert(
	ctx context.Context, deviations []domain.Input, subjectKey string, now time.Time,
) (domain.PersistResult, map[string]struct{}, error) {
	result := domain.PersistResult{}
	seen := make(map[string]struct{}, len(deviations))

	for _, d := range deviations {
		key := deviationKey(d.RuleID, subjectKey)
		seen[key] = struct{}{}

		id := d.DeviationID
		if id == uuid.Nil {
			id = uuid.New()
		}

		const upsert = `
			INSERT INTO deviations_v1 (
				deviation_id, deviation_key, rule_id, subject_key, status,
				severity, title, explanation, evidence,
				window_since, window_until,
				first_seen_at, last_seen_at, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, 'OPEN',
				$5, $6, $7, $8,
				$9, $10,
				$11, $11, $11, $11
			)
			ON CONFLICT (deviation_key) DO UPDATE SET
				status        = CASE WHEN deviations_v1.status = 'CLOSED' THEN 'OPEN' ELSE deviations_v1.status END,
				closed_at     = CASE WHEN deviations_v1.status = 'CLOSED' THEN NULL ELSE deviations_v1.closed_at END,
				severity      = EXCLUDED.severity,
				title         = EXCLUDED.title,
				explanation   = EXCLUDED.explanation,
				evidence      = EXCLUDED.evidence,
				window_since  = EXCLUDED.window_since,
				window_until  = EXCLUDED.window_until,
				last_seen_at  = EXCLUDED.last_seen_at,
				updated_at    = EXCLUDED.updated_at
			RETURNING (xmax = 0) AS inserted,
			          (xmax <> 0 AND status = 'OPEN' AND closed_at IS NULL) AS maybe_reopened
		`
		row := s.q.QueryRow(ctx, upsert,
			id, key, d.RuleID, subjectKey,
			d.Severity, d.Title, d.Explanation, d.Evidence,
			d.WindowSince.UTC(), d.WindowUntil.UTC(),
			now.UTC(),
		)
		var inserted, maybeReopened bool
		if err := row.Scan(&inserted, &maybeReopened); err != nil {
			return result, nil, err
		}
		switch {
		case inserted:
			result.Created++
		case maybeReopened:
			result.Reopened++
			result.Updated++
		default:
			result.Updated++
		}
	}

	return result, seen, nil
}

// CloseStale implements domain.Store.CloseStale
func (s *pg) CloseStale(
	ctx context.Context, subjectKey string, ruleIDs []string, seenKeys map[string]struct{}, now time.Time, expireAfterMinutes int,
) (int, error) {
	threshold := now.Add(-time.Duration(expireAfterMinutes) * time.Minute)

	const selectStale = `
		SELECT deviation_key, deviation_id::text, rule_id, severity, title, first_seen_at
		FROM deviations_v1
		WHERE subject_key = $1
		  AND rule_id = ANY($2)
		  AND status IN ('OPEN', 'ACK')
		  AND last_seen_at < $3
	`
	rows, err := s.q.Query(ctx, selectStale, subjectKey, ruleIDs, threshold.UTC())
	if err != nil {
		return 0, err
	}
	var toClose []string
	type staleDeviation struct {
		DeviationID, RuleID, Severity, Title string
		FirstSeenAt                          time.Time
	}
	var archive []staleDeviation
	for rows.Next() {
		var key string
		var d staleDeviation
		if err := rows.Scan(&key, &d.DeviationID, &d.RuleID, &d.Severity, &d.Title, &d.FirstSeenAt); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := seenKeys[key]; !ok {
			toClose = append(toClose, key)
			archive = append(archive, d)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(toClose) == 0 {
		return 0, nil
	}

	const closeSQL = `
		UPDATE deviations_v1
		SET status = 'CLOSED', closed_at = $2, updated_at = $2
		WHERE deviation_key = ANY($1)
	`
	if _, err := s.q.Exec(ctx, closeSQL, toClose, now.UTC()); err != nil {
		return 0, err
	}

	archiveRows := make([]struct {
		DeviationID, RuleID, SubjectKey, Severity, Title string
		FirstSeenAt                                      time.Time
	}, 0, len(archive))
	for _, d := range archive {
		archiveRows = append(archiveRows, struct {
			DeviationID, RuleID, SubjectKey, Severity, Title string
			FirstSeenAt                                      time.Time
		}{d.DeviationID, d.RuleID, subjectKey, d.Severity, d.Title, d.FirstSeenAt})
	}
	s.cold.DeviationsClosed(ctx, archiveRows, now.UTC())

	return len(toClose), nil
}

const deviationColumns = `
	deviation_id, deviation_key, rule_id, subject_key, status,
	severity, title, explanation, evidence,
	window_since, window_until, first_seen_at, last_seen_at, closed_at,
	created_at, updated_at
`

func scanDeviation(row store.Row) (domain.Record, error) {
	var r domain.Record
	var status string
	if err := row.Scan(
		&r.DeviationID, &r.DeviationKey, &r.RuleID, &r.SubjectKey, &status,
		&r.Severity, &r.Title, &r.Explanation, &r.Evidence,
		&r.WindowSince, &r.WindowUntil, &r.FirstSeenAt, &r.LastSeenAt, &r.ClosedAt,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return domain.Record{}, err
	}
	r.Status = domain.Status(status)
	return r, nil
}

// List implements domain.Store.List
func (s *pg) List(ctx context.Context, filter domain.ListFilter) ([]domain.Record, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString("SELECT " + deviationColumns + " FROM deviations_v1 WHERE 1=1\n")
	if filter.SubjectKey != "" {
		sb.WriteString(" AND subject_key = " + arg(filter.SubjectKey) + "\n")
	}
	if filter.RuleID != "" {
		sb.WriteString(" AND rule_id = " + arg(filter.RuleID) + "\n")
	}
	if filter.Status != "" {
		sb.WriteString(" AND status = " + arg(string(filter.Status)) + "\n")
	}
	sb.WriteString(" ORDER BY last_seen_at DESC")

	rows, err := s.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Record, 0, 64)
	for rows.Next() {
		r, err := scanDeviation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get implements domain.Store.Get
func (s *pg) Get(ctx context.Context, id uuid.UUID) (domain.Record, bool, error) {
	row := s.q.QueryRow(ctx, "SELECT "+deviationColumns+" FROM deviations_v1 WHERE deviation_id = $1", id)
	r, err := scanDeviation(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, err
	}
	return r, true, nil
}

// SetStatus implements domain.Store.SetStatus
func (s *pg) SetStatus(ctx context.Context, id uuid.UUID, status domain.Status, now time.Time) (domain.Record, bool, error) {
	var closedAt *time.Time
	if status == domain.StatusClosed {
		closedAt = &now
	}
	row := s.q.QueryRow(ctx, `
		UPDATE deviations_v1
		SET status = $2, closed_at = $3, updated_at = $4
		WHERE deviation_id = $1
		RETURNING `+deviationColumns, id, string(status), closedAt, now.UTC())
	r, err := scanDeviation(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, err
	}
	return r, true, nil
}
