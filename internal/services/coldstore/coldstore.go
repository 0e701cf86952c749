// Package coldstore archives closed anomaly episodes and closed deviations
// to ClickHouse once Postgres no longer needs them for live lookups,
// grounded on platform/store's Clickhouse seam and swearjar's hits->CH
// export shape.
package coldstore

import (
	"context"
	"time"

	"aginosd/internal/platform/logger"
	"aginosd/internal/platform/store"
)

// Sink writes closed records to ClickHouse; nil-safe so callers can embed it
// unconditionally and only pay the cost when CH is configured.
type Sink struct{ ch store.Clickhouse }

// New constructs a Sink; ch may be nil, in which case every write is a no-op
func New(ch store.Clickhouse) *Sink { return &Sink{ch: ch} }

type anomalyEpisodeRow struct {
	ID          uint64    `ch:"id"`
	Room        string    `ch:"room"`
	StartTS     time.Time `ch:"start_ts"`
	EndTS       time.Time `ch:"end_ts"`
	PeakScore   float64   `ch:"peak_score"`
	PeakLevel   string    `ch:"peak_level"`
	CloseReason string    `ch:"close_reason"`
	ClosedAt    time.Time `ch:"closed_at"`
}

// AnomalyEpisodeClosed archives one closed anomaly episode. Failures are
// logged, never returned: the cold store is a convenience export, not a
// transactional write the caller's commit should depend on.
func (s *Sink) AnomalyEpisodeClosed(ctx context.Context, id uint64, room string, startTS, endTS time.Time, peakScore float64, peakLevel, closeReason string) {
	if s == nil || s.ch == nil {
		return
	}
	row := anomalyEpisodeRow{
		ID: id, Room: room, StartTS: startTS, EndTS: endTS,
		PeakScore: peakScore, PeakLevel: peakLevel, CloseReason: closeReason,
		ClosedAt: time.Now().UTC(),
	}
	if err := s.ch.Insert(ctx, "anomaly_episodes_cold", row); err != nil {
		logger.Named("coldstore").Warn().Err(err).Str("room", room).Msg("anomaly episode archive failed")
	}
}

type deviationRow struct {
	DeviationID string    `ch:"deviation_id"`
	RuleID      string    `ch:"rule_id"`
	SubjectKey  string    `ch:"subject_key"`
	Severity    string    `ch:"severity"`
	Title       string    `ch:"title"`
	FirstSeenAt time.Time `ch:"first_seen_at"`
	ClosedAt    time.Time `ch:"closed_at"`
}

// DeviationsClosed archives a batch of deviations closed by the same
// stale-sweep pass.
func (s *Sink) DeviationsClosed(ctx context.Context, rows []struct {
	DeviationID, RuleID, SubjectKey, Severity, Title string
	FirstSeenAt                                      time.Time
}, closedAt time.Time) {
	if s == nil || s.ch == nil || len(rows) == 0 {
		return
	}
	for _, r := range rows {
		out := deviationRow{
			DeviationID: r.DeviationID, RuleID: r.RuleID, SubjectKey: r.SubjectKey,
			Severity: r.Severity, Title: r.Title, FirstSeenAt: r.FirstSeenAt, ClosedAt: closedAt,
		}
		if err := s.ch.Insert(ctx, "deviations_cold", out); err != nil {
			logger.Named("coldstore").Warn().Err(err).Str("deviation_id", r.DeviationID).Msg("deviation archive failed")
			return
		}
	}
}
