package service

import (
	"context"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/anomalies/domain"
	arepo "aginosd/internal/services/anomalies/repo"
	"aginosd/internal/services/coldstore"
)

// Default close thresholds, per spec's timeout-close addition alongside the
// original's green-streak close.
const (
	DefaultCloseTimeoutMinutes = 90
	DefaultCloseGreenN         = 2
)

// Lifecycle runs C8's per-room episode upsert under a row lock
type Lifecycle struct {
	Tx                  repokit.TxRunner
	Store               repokit.Binder[arepo.Store]
	CloseTimeoutMinutes int
	CloseGreenN         int
	Cold                *coldstore.Sink
}

// NewLifecycle constructs a Lifecycle with spec default thresholds
func NewLifecycle(tx repokit.TxRunner) *Lifecycle {
	return &Lifecycle{
		Tx:                  tx,
		Store:               arepo.NewPG(),
		CloseTimeoutMinutes: DefaultCloseTimeoutMinutes,
		CloseGreenN:         DefaultCloseGreenN,
	}
}

// Upsert applies one scored bucket to the room's active episode.
// now is the instant the scheduler run is evaluating at, used for the
// timeout-close check; bucket.BucketStart/.BucketEnd drive the streak and
// peak bookkeeping.
func (l *Lifecycle) Upsert(ctx context.Context, now time.Time, bucket domain.BucketScore) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	err := l.Tx.Tx(ctx, func(q repokit.Queryer) error {
		store := l.Store.Bind(q)

		active, ok, err := store.ActiveLocked(ctx, bucket.Room)
		if err != nil {
			return err
		}

		if !ok {
			if bucket.Level == domain.LevelGreen {
				result = domain.UpsertResult{Action: domain.ActionNoop}
				return nil
			}
			ep := domain.Episode{
				Room:        bucket.Room,
				StartTS:     bucket.BucketStart,
				StartBucket: bucket.BucketStart,
				LastBucket:  bucket.BucketStart,
				PeakBucket:  bucket.BucketStart,
				Level:       bucket.Level,
				LastScore:   bucket.ScoreTotal,
				LastLevel:   bucket.Level,
				ReasonsLast: bucket.Reasons,
				PeakScore:   bucket.ScoreTotal,
				PeakLevel:   bucket.Level,
				ReasonsPeak: bucket.Reasons,
				GreenStreak: 0,
				BucketCount: 1,
				ModelEnd:    bucket.ModelEnd,
				PetWeight:   bucket.PetWeight,
			}
			id, err := store.Insert(ctx, ep)
			if err != nil {
				return err
			}
			result = domain.UpsertResult{Action: domain.ActionOpened, EpisodeID: id, Active: true}
			return nil
		}

		// idempotent w.r.t. (room, bucket_start): a bucket already folded
		// into last_bucket is a no-op
		if !active.LastBucket.Before(bucket.BucketStart) {
			result = domain.UpsertResult{Action: domain.ActionNoop, EpisodeID: active.ID, Active: true}
			return nil
		}

		active.LastBucket = bucket.BucketStart
		active.BucketCount++
		active.LastScore = bucket.ScoreTotal
		active.LastLevel = bucket.Level
		active.ReasonsLast = bucket.Reasons

		if bucket.ScoreTotal > active.PeakScore {
			active.PeakScore = bucket.ScoreTotal
			active.PeakLevel = bucket.Level
			active.PeakBucket = bucket.BucketStart
			active.ReasonsPeak = bucket.Reasons
		}

		if bucket.Level == domain.LevelGreen {
			active.GreenStreak++
		} else {
			active.GreenStreak = 0
			active.Level = domain.MaxLevel(active.Level, bucket.Level)
		}

		// timeout-close takes precedence over the green streak
		if now.Sub(active.LastBucket) >= time.Duration(l.CloseTimeoutMinutes)*time.Minute {
			if err := store.Close(ctx, active.ID, bucket.BucketEnd, domain.CloseReasonTimeout); err != nil {
				return err
			}
			l.Cold.AnomalyEpisodeClosed(ctx, active.ID, active.Room, active.StartTS, bucket.BucketEnd, active.PeakScore, string(active.PeakLevel), string(domain.CloseReasonTimeout))
			result = domain.UpsertResult{Action: domain.ActionClosed, EpisodeID: active.ID}
			return nil
		}

		if active.GreenStreak >= l.CloseGreenN {
			if err := store.Close(ctx, active.ID, bucket.BucketEnd, domain.CloseReasonGreenStreak); err != nil {
				return err
			}
			l.Cold.AnomalyEpisodeClosed(ctx, active.ID, active.Room, active.StartTS, bucket.BucketEnd, active.PeakScore, string(active.PeakLevel), string(domain.CloseReasonGreenStreak))
			result = domain.UpsertResult{Action: domain.ActionClosed, EpisodeID: active.ID}
			return nil
		}

		if err := store.Update(ctx, active); err != nil {
			return err
		}
		result = domain.UpsertResult{Action: domain.ActionUpdated, EpisodeID: active.ID, Active: true}
		return nil
	})
	if err != nil {
		return domain.UpsertResult{}, err
	}
	return result, nil
}
