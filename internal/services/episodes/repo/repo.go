// Package repo persists built episodes, grounded on
// original_source/scripts/episodes_build.py's insert_episodes and the
// column-list insert idiom in swearjar's hits repo.
package repo

import (
	"context"
	"encoding/json"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/episodes/domain"

	"github.com/google/uuid"
)

type binder struct{}

// NewPG constructs a binder for the Postgres episode writer
func NewPG() repokit.Binder[Writer] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Writer { return &pg{q: q} }

// Writer persists classified episodes
type Writer interface {
	Insert(ctx context.Context, eps []domain.Episode) (int, error)
}

type pg struct{ q repokit.Queryer }

func (s *pg) Insert(ctx context.Context, eps []domain.Episode) (int, error) {
	const insertSQL = `
		INSERT INTO episodes (
			episode_id, start_ts, end_ts, duration_s,
			room, primary_sensor, sensor_set,
			close_reason, timeout_s, quality, quality_flags,
			event_count_total, event_count_motion, event_count_presence_on, event_count_presence_off,
			event_rate_per_min,
			first_event_id, last_event_id,
			door_before_s, door_during, door_after_s,
			tod_bucket, weekday,
			class, p_human, p_pet, p_unknown,
			classifier_version, reasons, reason_summary
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16,
			$17, $18,
			$19, $20, $21,
			$22, $23,
			$24, $25, $26, $27,
			$28, $29, $30
		)
	`
	n := 0
	for _, ep := range eps {
		sensorSet, _ := json.Marshal(ep.SensorSet)
		qualityFlags, _ := json.Marshal(ep.QualityFlags)
		reasons, _ := json.Marshal(ep.Reasons)

		if _, err := s.q.Exec(ctx, insertSQL,
			uuid.New(), ep.StartTS.UTC(), ep.EndTS.UTC(), ep.DurationSeconds(),
			ep.Room, ep.PrimarySensor, string(sensorSet),
			string(ep.CloseReason), ep.TimeoutS, string(ep.Quality), string(qualityFlags),
			ep.Total, ep.Motion, ep.PresenceOn, ep.PresenceOff,
			ep.EventRatePerMinute(),
			ep.FirstEventID, ep.LastEventID,
			ep.DoorBeforeS, ep.DoorDuring, ep.DoorAfterS,
			string(ep.TODBucket), int(ep.Weekday),
			string(ep.Class), ep.PHuman, ep.PPet, ep.PUnknown,
			ep.ClassifierVersion, string(reasons), ep.ReasonSummary,
		); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
