// Package repo persists anomaly episodes (C8), grounded on
// original_source/backend/services/anomaly_episode_engine.py's
// create_episode/update_episode_peak/close_episode and
// proposals_expiry.py's SELECT ... FOR UPDATE row-lock idiom.
package repo

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/anomalies/domain"
)

type binder struct{}

// NewPG constructs a binder for the Postgres anomaly episode store
func NewPG() repokit.Binder[Store] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Store { return &pg{q: q} }

// Store is the anomaly episode persistence surface the lifecycle depends on
type Store interface {
	// ActiveLocked selects the active (end_ts IS NULL) episode for room
	// under FOR UPDATE, or ok=false if none exists
	ActiveLocked(ctx context.Context, room string) (domain.Episode, bool, error)

	Insert(ctx context.Context, ep domain.Episode) (uint64, error)
	Update(ctx context.Context, ep domain.Episode) error
	Close(ctx context.Context, id uint64, endTS time.Time, reason domain.CloseReason) error
}

type pg struct{ q repokit.Queryer }

func (s *pg) ActiveLocked(ctx context.Context, room string) (domain.Episode, bool, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, room, start_ts, start_bucket, last_bucket, peak_bucket,
		       level, last_score, last_level, reasons_last,
		       peak_score, peak_level, reasons_peak,
		       green_streak, bucket_count, model_end, pet_weight
		FROM anomaly_episodes
		WHERE room = $1 AND end_ts IS NULL
		ORDER BY start_ts DESC
		LIMIT 1
		FOR UPDATE
	`, room)

	var ep domain.Episode
	var lastLevel, peakLevel, level string
	var reasonsLast, reasonsPeak []byte
	if err := row.Scan(
		&ep.ID, &ep.Room, &ep.StartTS, &ep.StartBucket, &ep.LastBucket, &ep.PeakBucket,
		&level, &ep.LastScore, &lastLevel, &reasonsLast,
		&ep.PeakScore, &peakLevel, &reasonsPeak,
		&ep.GreenStreak, &ep.BucketCount, &ep.ModelEnd, &ep.PetWeight,
	); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.Episode{}, false, nil
		}
		return domain.Episode{}, false, err
	}
	ep.Level = domain.Level(level)
	ep.LastLevel = domain.Level(lastLevel)
	ep.PeakLevel = domain.Level(peakLevel)
	_ = json.Unmarshal(reasonsLast, &ep.ReasonsLast)
	_ = json.Unmarshal(reasonsPeak, &ep.ReasonsPeak)
	return ep, true, nil
}

func (s *pg) Insert(ctx context.Context, ep domain.Episode) (uint64, error) {
	reasonsLast, _ := json.Marshal(ep.ReasonsLast)
	reasonsPeak, _ := json.Marshal(ep.ReasonsPeak)

	row := s.q.QueryRow(ctx, `
		INSERT INTO anomaly_episodes (
			room, start_ts, start_bucket, last_bucket, peak_bucket,
			level, last_score, last_level, reasons_last,
			peak_score, peak_level, reasons_peak,
			green_streak, bucket_count, model_end, pet_weight
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)
		RETURNING id
	`,
		ep.Room, ep.StartTS.UTC(), ep.StartBucket.UTC(), ep.LastBucket.UTC(), ep.PeakBucket.UTC(),
		string(ep.Level), ep.LastScore, string(ep.LastLevel), string(reasonsLast),
		ep.PeakScore, string(ep.PeakLevel), string(reasonsPeak),
		ep.GreenStreak, ep.BucketCount, ep.ModelEnd.UTC(), ep.PetWeight,
	)
	var id uint64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *pg) Update(ctx context.Context, ep domain.Episode) error {
	reasonsLast, _ := json.Marshal(ep.ReasonsLast)
	reasonsPeak, _ := json.Marshal(ep.ReasonsPeak)

	_, err := s.q.Exec(ctx, `
		UPDATE anomaly_episodes
		SET last_bucket = $2, peak_bucket = $3,
		    level = $4, last_score = $5, last_level = $6, reasons_last = $7,
		    peak_score = $8, peak_level = $9, reasons_peak = $10,
		    green_streak = $11, bucket_count = $12, updated_at = now()
		WHERE id = $1
	`,
		ep.ID, ep.LastBucket.UTC(), ep.PeakBucket.UTC(),
		string(ep.Level), ep.LastScore, string(ep.LastLevel), string(reasonsLast),
		ep.PeakScore, string(ep.PeakLevel), string(reasonsPeak),
		ep.GreenStreak, ep.BucketCount,
	)
	return err
}

func (s *pg) Close(ctx context.Context, id uint64, endTS time.Time, reason domain.CloseReason) error {
	_, err := s.q.Exec(ctx, `
		UPDATE anomaly_episodes
		SET end_ts = $2, closed_at = now(), closed_reason = $3, updated_at = now()
		WHERE id = $1
	`, id, endTS.UTC(), string(reason))
	return err
}
