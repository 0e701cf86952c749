package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/anomalies/domain"
)

type queryBinder struct{}

// NewQueryPG constructs a binder for the Postgres anomaly episode reader
func NewQueryPG() repokit.Binder[Query] { return queryBinder{} }

// Bind implements repokit.Binder
func (queryBinder) Bind(q repokit.Queryer) Query { return &pgQuery{q: q} }

// ListFilter narrows Query.List by room, active-only, a minimum start_ts, a
// minimum severity level, and a row cap; zero values mean "any"/"unbounded"
type ListFilter struct {
	Room       string
	ActiveOnly bool
	Since      time.Time
	MinLevel   domain.Level
	Limit      int
}

// levelsAtOrAbove returns the set of stored level strings at or above min,
// matching domain.Level's GREEN < YELLOW < RED ranking
func levelsAtOrAbove(min domain.Level) []string {
	switch min {
	case domain.LevelRed:
		return []string{"RED"}
	case domain.LevelYellow:
		return []string{"YELLOW", "RED"}
	default:
		return nil
	}
}

// Query is the anomaly episode read surface the API layer depends on
type Query interface {
	List(ctx context.Context, filter ListFilter) ([]domain.Episode, error)
}

type pgQuery struct{ q repokit.Queryer }

func (s *pgQuery) List(ctx context.Context, filter ListFilter) ([]domain.Episode, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`
		SELECT id, room, start_ts, start_bucket, last_bucket, peak_bucket, end_ts,
		       level, last_score, last_level, reasons_last,
		       peak_score, peak_level, reasons_peak,
		       green_streak, bucket_count, model_end, pet_weight
		FROM anomaly_episodes WHERE 1=1
	`)
	if filter.Room != "" {
		sb.WriteString(" AND room = " + arg(filter.Room) + "\n")
	}
	if filter.ActiveOnly {
		sb.WriteString(" AND end_ts IS NULL\n")
	}
	if !filter.Since.IsZero() {
		sb.WriteString(" AND start_ts >= " + arg(filter.Since.UTC()) + "\n")
	}
	if levels := levelsAtOrAbove(filter.MinLevel); levels != nil {
		sb.WriteString(" AND level = ANY(" + arg(levels) + ")\n")
	}
	sb.WriteString(" ORDER BY start_ts DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(filter.Limit))
	}

	rows, err := s.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Episode, 0, 32)
	for rows.Next() {
		var ep domain.Episode
		var lastLevel, peakLevel, level string
		var reasonsLast, reasonsPeak []byte
		if err := rows.Scan(
			&ep.ID, &ep.Room, &ep.StartTS, &ep.StartBucket, &ep.LastBucket, &ep.PeakBucket, &ep.EndTS,
			&level, &ep.LastScore, &lastLevel, &reasonsLast,
			&ep.PeakScore, &peakLevel, &reasonsPeak,
			&ep.GreenStreak, &ep.BucketCount, &ep.ModelEnd, &ep.PetWeight,
		); err != nil {
			return nil, err
		}
		ep.Level = domain.Level(level)
		ep.LastLevel = domain.Level(lastLevel)
		ep.PeakLevel = domain.Level(peakLevel)
		_ = json.Unmarshal(reasonsLast, &ep.ReasonsLast)
		_ = json.Unmarshal(reasonsPeak, &ep.ReasonsPeak)
		out = append(out, ep)
	}
	return out, rows.Err()
}
