// Package repo provides the Postgres-backed event store reader
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/events/domain"
)

type binder struct{}

// NewPG constructs a binder for the Postgres-backed event reader
func NewPG() repokit.Binder[domain.ReaderPort] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) domain.ReaderPort { return &pg{q: q} }

type pg struct{ q repokit.Queryer }

// Query reads events in [since, until) ordered by timestamp ascending,
// optionally filtered by category and room, capped at limit rows.
func (s *pg) Query(ctx context.Context, since, until time.Time, filter domain.Filter, limit int) ([]domain.Event, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`
		SELECT id::text, ts, category, room, entity_id, payload
		FROM events
		WHERE ts >= ` + arg(since.UTC()) + ` AND ts < ` + arg(until.UTC()) + `
	`)
	if filter.Category != "" {
		sb.WriteString(" AND category = " + arg(string(filter.Category)) + "\n")
	}
	if filter.Room != "" {
		sb.WriteString(" AND room = " + arg(filter.Room) + "\n")
	}
	sb.WriteString(" ORDER BY ts ASC, id ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT " + arg(limit))
	}

	rows, err := s.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Event, 0, 256)
	for rows.Next() {
		var e domain.Event
		var cat, payloadRaw string
		if err := rows.Scan(&e.ID, &e.Timestamp, &cat, &e.Room, &e.EntityID, &payloadRaw); err != nil {
			return nil, err
		}
		e.Category = domain.Category(cat)
		e.Timestamp = e.Timestamp.UTC()
		if payloadRaw != "" {
			_ = json.Unmarshal([]byte(payloadRaw), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// QueryAll pages through Query using the timestamp as a keyset cursor,
// advancing since = last.Timestamp.Add(time.Microsecond) each page,
// matching the utterances repo's keyset-paging idiom generalized to a
// plain time cursor (events have no natural UUID ordering column here).
func QueryAll(ctx context.Context, r domain.ReaderPort, since, until time.Time, filter domain.Filter, pageSize int) ([]domain.Event, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	var all []domain.Event
	cursor := since
	for {
		page, err := r.Query(ctx, cursor, until, filter, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		last := page[len(page)-1]
		cursor = last.Timestamp.Add(time.Microsecond)
		if !cursor.Before(until) {
			return all, nil
		}
	}
}
