// Package repo provides the Postgres-backed baseline reader, grounded on
// original_source/backend/services/anomaly_scoring.py's raw SQL reads.
package repo

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/baselines/domain"
)

type binder struct{}

// NewPG constructs a binder for the Postgres baseline reader
func NewPG() repokit.Binder[domain.Reader] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) domain.Reader { return &pg{q: q} }

type pg struct{ q repokit.Queryer }

func (s *pg) LatestModelEnd(ctx context.Context) (domain.ModelStatus, bool, error) {
	row := s.q.QueryRow(ctx, `
		SELECT model_end FROM baseline_model_status ORDER BY model_end DESC LIMIT 1
	`)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.ModelStatus{}, false, nil
		}
		return domain.ModelStatus{}, false, err
	}
	return domain.ModelStatus{ModelEnd: t.UTC()}, true, nil
}

func (s *pg) RoomBucket(
	ctx context.Context, modelEnd time.Time, dow int, isWeekend bool, room string, bucketIdx int,
) (domain.RoomBucket, bool, error) {
	row := s.q.QueryRow(ctx, `
		SELECT activity_median, activity_sigma, activity_support_n, sigma_floor,
		       door_median, door_sigma, door_support_n
		FROM baseline_room_bucket
		WHERE model_end = $1 AND dow = $2 AND is_weekend = $3 AND room_id = $4 AND bucket_idx = $5
		LIMIT 1
	`, modelEnd.UTC(), dow, isWeekend, room, bucketIdx)

	var rb domain.RoomBucket
	var actMedian, actSigma, sigmaFloor, doorMedian, doorSigma stdsql.NullFloat64
	var actSupport, doorSupport stdsql.NullInt64
	if err := row.Scan(&actMedian, &actSigma, &actSupport, &sigmaFloor, &doorMedian, &doorSigma, &doorSupport); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.RoomBucket{}, false, nil
		}
		return domain.RoomBucket{}, false, err
	}
	rb.ActivityMedian = actMedian.Float64
	rb.ActivitySigma = actSigma.Float64
	rb.ActivitySupportN = int(actSupport.Int64)
	rb.SigmaFloor = sigmaFloor.Float64
	if !sigmaFloor.Valid {
		rb.SigmaFloor = 0.1
	}
	rb.DoorMedian = doorMedian.Float64
	rb.DoorSigma = doorSigma.Float64
	rb.DoorSupportN = int(doorSupport.Int64)
	return rb, true, nil
}

func (s *pg) Transition(
	ctx context.Context, modelEnd time.Time, dow int, isWeekend bool, bucketIdx int, fromRoom, toRoom string,
) (domain.Transition, bool, error) {
	row := s.q.QueryRow(ctx, `
		SELECT p_smoothed, trans_count, from_total, alpha
		FROM baseline_transition
		WHERE model_end = $1 AND dow = $2 AND is_weekend = $3 AND bucket_idx = $4
		  AND from_room_id = $5 AND to_room_id = $6
		LIMIT 1
	`, modelEnd.UTC(), dow, isWeekend, bucketIdx, fromRoom, toRoom)

	var t domain.Transition
	var p, cnt, tot, alpha stdsql.NullFloat64
	if err := row.Scan(&p, &cnt, &tot, &alpha); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) || !p.Valid {
			return domain.Transition{}, false, nil
		}
		return domain.Transition{}, false, err
	}
	if !p.Valid {
		return domain.Transition{}, false, nil
	}
	t.PSmoothed, t.TransCount, t.FromTotal, t.Alpha = p.Float64, cnt.Float64, tot.Float64, alpha.Float64
	return t, true, nil
}

func (s *pg) PrevRoom(ctx context.Context, t time.Time) (string, bool, error) {
	row := s.q.QueryRow(ctx, `
		SELECT room FROM episodes
		WHERE end_ts IS NOT NULL AND end_ts <= $1
		ORDER BY end_ts DESC LIMIT 1
	`, t.UTC())
	var room string
	if err := row.Scan(&room); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return room, true, nil
}

func (s *pg) ObservedActivity(
	ctx context.Context, room string, start, end time.Time, petWeight, unknownWeight float64,
) (float64, int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT start_ts, end_ts, event_rate_per_min, p_human, p_pet, p_unknown
		FROM episodes
		WHERE room = $1 AND start_ts < $2 AND end_ts IS NOT NULL AND end_ts > $3
		ORDER BY start_ts ASC
	`, room, end.UTC(), start.UTC())
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var total float64
	used := 0
	for rows.Next() {
		var epStart, epEnd time.Time
		var rate, pH, pP, pU float64
		if err := rows.Scan(&epStart, &epEnd, &rate, &pH, &pP, &pU); err != nil {
			return 0, 0, err
		}
		overlapStart := maxTime(epStart, start)
		overlapEnd := minTime(epEnd, end)
		overlapS := overlapEnd.Sub(overlapStart).Seconds()
		if overlapS <= 0 {
			continue
		}
		w := pH + petWeight*pP + unknownWeight*pU
		total += rate * (overlapS / 60.0) * w
		used++
	}
	return total, used, rows.Err()
}

func (s *pg) ObservedDoorEvents(ctx context.Context, room string, start, end time.Time) (int, error) {
	row := s.q.QueryRow(ctx, `
		SELECT COUNT(*)::int FROM events
		WHERE ts >= $1 AND ts < $2 AND category = 'door'
		  AND (payload->>'room' = $3 OR payload->>'area' = $3)
	`, start.UTC(), end.UTC(), room)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
