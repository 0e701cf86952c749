// Package repo implements the proposal miner's four queries and the
// lifecycle's transition/audit persistence, grounded on
// original_source/backend/services/proposals_miner.py and
// proposals_expiry.py.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/proposals/domain"
)

type minerBinder struct{}

// NewMinerPG constructs a binder for the Postgres proposal miner
func NewMinerPG() repokit.Binder[Miner] { return minerBinder{} }

// Bind implements repokit.Binder
func (minerBinder) Bind(q repokit.Queryer) Miner { return &pgMiner{q: q} }

// Miner runs the four mining queries and upserts their output
type Miner interface {
	MineNightActivityEarlySignal(ctx context.Context, now time.Time) ([]domain.Draft, error)
	MineDoorAnomalyBurst(ctx context.Context, now time.Time) ([]domain.Draft, error)
	MineMVPBootstrap(ctx context.Context, now time.Time) ([]domain.Draft, error)
	MineNightActivityFrequent(ctx context.Context, now time.Time) ([]domain.Draft, error)
	Upsert(ctx context.Context, d domain.Draft) error
}

type pgMiner struct{ q repokit.Queryer }

const orgIDDefault = "default"

func (s *pgMiner) MineNightActivityEarlySignal(ctx context.Context, now time.Time) ([]domain.Draft, error) {
	rows, err := s.q.Query(ctx, `
		WITH ae AS (
		  SELECT
		    room AS subject_id,
		    start_ts,
		    (start_ts AT TIME ZONE 'Europe/Oslo') AS local_ts
		  FROM anomaly_episodes
		  WHERE start_ts >= (now() - interval '8 days')
		),
		nights AS (
		  SELECT subject_id, (local_ts::date) AS local_date, COUNT(*)::int AS cnt
		  FROM ae
		  WHERE (EXTRACT(HOUR FROM local_ts) >= 22 OR EXTRACT(HOUR FROM local_ts) < 7)
		  GROUP BY 1, 2
		),
		windowed AS (
		  SELECT subject_id,
		    COUNT(*) FILTER (WHERE cnt >= 1)::int AS nights_over_threshold,
		    ARRAY_AGG(jsonb_build_object('date', local_date::text, 'count', cnt) ORDER BY local_date DESC) AS per_night
		  FROM nights
		  WHERE local_date >= ((now() AT TIME ZONE 'Europe/Oslo')::date - 6)
		  GROUP BY 1
		)
		SELECT subject_id, nights_over_threshold, per_night
		FROM windowed
		WHERE nights_over_threshold >= 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		var subjectID string
		var nightsOver int
		var perNightRaw []byte
		if err := rows.Scan(&subjectID, &nightsOver, &perNightRaw); err != nil {
			return nil, err
		}
		var perNight []map[string]any
		_ = json.Unmarshal(perNightRaw, &perNight)

		out = append(out, domain.Draft{
			OrgID:        orgIDDefault,
			SubjectID:    subjectID,
			ProposalType: domain.TypeNightActivityEarlySignal,
			DedupeKey:    "night_activity:all",
			Priority:     35,
			Evidence: map[string]any{
				"nights_window":          7,
				"nights_over_threshold":  nightsOver,
				"threshold":              1,
				"night_hours_local":      map[string]any{"start": "22:00", "end": "07:00"},
				"per_night":              perNight,
			},
			Why: []domain.WhyEntry{{
				ReasonCode: string(domain.TypeNightActivityEarlySignal),
				Text:       "Night activity occurs on at least 1 of the last 7 nights (local time).",
				Weight:     1.0,
				Data:       map[string]any{"nights_over_threshold": nightsOver},
			}},
			ActionTarget: "monitor:R-001",
			ActionPayload: map[string]any{
				"mode_test": "TEST", "mode_on": "ON",
				"params": map[string]any{"nights_window": 7, "min_nights": 1, "threshold": 1},
			},
			WindowStart: now.Add(-7 * 24 * time.Hour),
			WindowEnd:   now,
		})
	}
	return out, rows.Err()
}

func (s *pgMiner) MineDoorAnomalyBurst(ctx context.Context, now time.Time) ([]domain.Draft, error) {
	rows, err := s.q.Query(ctx, `
		WITH ae AS (
		  SELECT room AS subject_id, start_ts, reasons
		  FROM anomaly_episodes
		  WHERE start_ts >= (now() - interval '14 days')
		),
		door AS (
		  SELECT subject_id, (start_ts AT TIME ZONE 'Europe/Oslo')::date AS local_date, COUNT(*)::int AS cnt
		  FROM ae
		  WHERE EXISTS (
		    SELECT 1 FROM jsonb_array_elements(COALESCE(reasons, '[]'::jsonb)) elem
		    WHERE (elem->>'reason_code') LIKE 'EVENT_DOOR%'
		  )
		  GROUP BY 1, 2
		),
		agg AS (
		  SELECT subject_id,
		    COALESCE(SUM(cnt), 0)::int AS door_anomaly_count,
		    ARRAY_AGG(jsonb_build_object('date', local_date::text, 'count', cnt) ORDER BY local_date DESC) AS per_day
		  FROM door
		  GROUP BY 1
		)
		SELECT subject_id, door_anomaly_count, per_day
		FROM agg
		WHERE door_anomaly_count >= 3
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		var subjectID string
		var count int
		var perDayRaw []byte
		if err := rows.Scan(&subjectID, &count, &perDayRaw); err != nil {
			return nil, err
		}
		var perDay []map[string]any
		_ = json.Unmarshal(perDayRaw, &perDay)

		out = append(out, domain.Draft{
			OrgID:        orgIDDefault,
			SubjectID:    subjectID,
			ProposalType: domain.TypeDoorAnomalyBurst,
			DedupeKey:    "door_usage:all",
			Priority:     40,
			Evidence: map[string]any{
				"window_days": 14, "door_anomaly_count": count, "min_count": 3,
				"per_day": perDay, "reason_code_prefix": "EVENT_DOOR",
			},
			Why: []domain.WhyEntry{{
				ReasonCode: string(domain.TypeDoorAnomalyBurst),
				Text:       "Door-related anomalies occur at least 3 times in the last 14 days (local time).",
				Weight:     1.0,
				Data:       map[string]any{"door_anomaly_count": count},
			}},
			ActionTarget: "monitor:R-002",
			ActionPayload: map[string]any{
				"mode_test": "TEST", "mode_on": "ON",
				"params": map[string]any{"window_days": 14, "min_count": 3},
				"suppress_alerts_in_test": true,
			},
			WindowStart: now.Add(-14 * 24 * time.Hour),
			WindowEnd:   now,
		})
	}
	return out, rows.Err()
}

func (s *pgMiner) MineMVPBootstrap(ctx context.Context, now time.Time) ([]domain.Draft, error) {
	rows, err := s.q.Query(ctx, `
		SELECT room AS subject_id,
		       COUNT(*)::int AS anomaly_count, MAX(start_ts) AS last_ts
		FROM anomaly_episodes
		WHERE start_ts >= (now() - interval '7 days')
		  AND level IN ('YELLOW', 'RED')
		GROUP BY 1
		HAVING COUNT(*) >= 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		var subjectID string
		var count int
		var lastTS time.Time
		if err := rows.Scan(&subjectID, &count, &lastTS); err != nil {
			return nil, err
		}
		out = append(out, domain.Draft{
			OrgID:        orgIDDefault,
			SubjectID:    subjectID,
			ProposalType: domain.TypeMVPBootstrap,
			DedupeKey:    "mvp_bootstrap:any_l2",
			Priority:     10,
			Evidence: map[string]any{
				"window_days": 7, "level_min": 2, "anomaly_count": count,
				"last_ts": lastTS.UTC().Format(time.RFC3339), "mvp_bootstrap": true,
			},
			Why: []domain.WhyEntry{{
				ReasonCode: string(domain.TypeMVPBootstrap),
				Text:       "Bootstrap proposal to exercise lifecycle/API/UI: at least one L2+ anomaly in the last 7 days.",
				Weight:     1.0,
				Data:       map[string]any{"anomaly_count": count},
			}},
			ActionTarget:  "monitor:R-003",
			ActionPayload: map[string]any{"mode_test": "TEST", "mode_on": "ON"},
			WindowStart:   now.Add(-7 * 24 * time.Hour),
			WindowEnd:     now,
		})
	}
	return out, rows.Err()
}

func (s *pgMiner) MineNightActivityFrequent(ctx context.Context, now time.Time) ([]domain.Draft, error) {
	rows, err := s.q.Query(ctx, `
		WITH ae AS (
		  SELECT room AS subject_id, room AS room_id, id AS episode_id,
		         level, (start_ts AT TIME ZONE 'Europe/Oslo') AS local_ts
		  FROM anomaly_episodes
		  WHERE start_ts >= (now() - interval '8 days')
		),
		night_eps AS (
		  SELECT subject_id, room_id, episode_id, level, local_ts,
		    EXTRACT(HOUR FROM local_ts) AS h,
		    CASE WHEN EXTRACT(HOUR FROM local_ts) < 6 THEN (local_ts::date - 1) ELSE local_ts::date END AS night_date
		  FROM ae
		),
		filtered AS (
		  SELECT * FROM night_eps
		  WHERE (h >= 22 OR h < 6) AND level IN ('YELLOW', 'RED')
		    AND night_date >= ((now() AT TIME ZONE 'Europe/Oslo')::date - 6)
		),
		agg AS (
		  SELECT subject_id, room_id,
		    COUNT(DISTINCT night_date)::int AS nights_hit,
		    ARRAY_AGG(DISTINCT night_date ORDER BY night_date DESC) AS night_dates,
		    ARRAY_AGG(episode_id ORDER BY episode_id DESC) AS episode_ids
		  FROM filtered
		  GROUP BY 1, 2
		)
		SELECT subject_id, room_id, nights_hit, night_dates, episode_ids
		FROM agg
		WHERE nights_hit >= 4
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		var subjectID, roomID string
		var nightsHit int
		var nightDatesRaw, episodeIDsRaw []byte
		if err := rows.Scan(&subjectID, &roomID, &nightsHit, &nightDatesRaw, &episodeIDsRaw); err != nil {
			return nil, err
		}
		var nightDates []string
		var episodeIDs []int64
		_ = json.Unmarshal(nightDatesRaw, &nightDates)
		_ = json.Unmarshal(episodeIDsRaw, &episodeIDs)
		room := roomID

		out = append(out, domain.Draft{
			OrgID:        orgIDDefault,
			SubjectID:    subjectID,
			RoomID:       &room,
			ProposalType: domain.TypeNightActivityFrequent,
			DedupeKey:    "room:" + roomID,
			Priority:     60,
			Evidence: map[string]any{
				"nights_window": 7, "min_nights": 4, "level_min": 2,
				"night_hours_local": map[string]any{"start": "22:00", "end": "06:00"},
				"count_7d":          nightsHit,
				"night_dates":       nightDates,
				"episode_ids":       episodeIDs,
			},
			Why: []domain.WhyEntry{{
				ReasonCode: string(domain.TypeNightActivityFrequent),
				Text:       "Yellow/red night anomaly occurs at least 4 of the last 7 nights in the same room (local time).",
				Weight:     1.0,
				Data:       map[string]any{"count_7d": nightsHit, "room_id": roomID},
			}},
			ActionTarget: "monitor:R-001",
			ActionPayload: map[string]any{
				"monitor_key": "R-001", "room_id": roomID,
				"params": map[string]any{"nights_window": 7, "min_nights": 4, "level_min": 2},
			},
			WindowStart: now.Add(-7 * 24 * time.Hour),
			WindowEnd:   now,
		})
	}
	return out, rows.Err()
}

func (s *pgMiner) Upsert(ctx context.Context, d domain.Draft) error {
	evidence, _ := json.Marshal(d.Evidence)
	why, _ := json.Marshal(d.Why)
	actionPayload, _ := json.Marshal(d.ActionPayload)

	_, err := s.q.Exec(ctx, `
		INSERT INTO proposals (
		  org_id, subject_id, room_id, proposal_type, dedupe_key,
		  state, priority, evidence, why, action_target, action_payload,
		  first_detected_at, last_detected_at, window_start, window_end
		) VALUES (
		  $1, $2, $3, $4, $5,
		  'NEW', $6, $7, $8, $9, $10,
		  now(), now(), $11, $12
		)
		ON CONFLICT (org_id, subject_id, proposal_type, dedupe_key) WHERE state IN ('NEW','TESTING','ACTIVE')
		DO UPDATE SET
		  last_detected_at = now(),
		  evidence = EXCLUDED.evidence,
		  why = EXCLUDED.why,
		  priority = EXCLUDED.priority,
		  action_target = EXCLUDED.action_target,
		  action_payload = EXCLUDED.action_payload,
		  window_start = EXCLUDED.window_start,
		  window_end = EXCLUDED.window_end
	`,
		d.OrgID, d.SubjectID, d.RoomID, string(d.ProposalType), d.DedupeKey,
		d.Priority, string(evidence), string(why), d.ActionTarget, string(actionPayload),
		d.WindowStart.UTC(), d.WindowEnd.UTC(),
	)
	return err
}
