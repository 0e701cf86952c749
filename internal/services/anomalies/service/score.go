// Package service implements the anomaly scorer (C7) and the per-room
// episode lifecycle (C8), grounded on
// original_source/backend/services/anomaly_scoring.py's score_room_bucket
// and anomaly_episode_engine.py's process_bucket_score.
package service

import (
	"context"
	"math"
	"strings"
	"time"

	bdom "aginosd/internal/services/baselines/domain"

	"aginosd/internal/services/anomalies/domain"
)

const (
	defaultPetWeight     = 0.25
	defaultUnknownWeight = 0.50
	pFloor               = 1e-6
)

func clamp(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	default:
		return x
	}
}

func bucketIdx15(t time.Time) int {
	m := t.Hour()*60 + t.Minute()
	return m / 15
}

// Scorer computes bucket scores against the baseline reader
type Scorer struct {
	Baselines bdom.Reader
}

// NewScorer constructs a Scorer bound to a baseline reader
func NewScorer(b bdom.Reader) *Scorer { return &Scorer{Baselines: b} }

// Score implements C7: score_room_bucket ported faithfully, including its
// short-circuit when no baseline exists at all for the instance.
func (s *Scorer) Score(ctx context.Context, room string, bucketStart time.Time) (domain.BucketScore, error) {
	room = strings.TrimSpace(room)
	bucketStart = bucketStart.UTC().Truncate(time.Minute)
	bucketEnd := bucketStart.Add(15 * time.Minute)

	dow := int(bucketStart.Weekday())
	isWeekend := dow == 0 || dow == 6
	idx := bucketIdx15(bucketStart)

	bs := domain.BucketScore{
		Room:        room,
		BucketStart: bucketStart,
		BucketEnd:   bucketEnd,
		DOW:         dow,
		IsWeekend:   isWeekend,
		BucketIdx:   idx,
		PetWeight:   defaultPetWeight,
	}

	modelStatus, hasModel, err := s.Baselines.LatestModelEnd(ctx)
	if err != nil {
		return domain.BucketScore{}, err
	}
	if !hasModel {
		bs.Reasons = append(bs.Reasons, domain.Reason{
			ReasonCode: "BASELINE_STATUS_MISSING",
			Component:  "meta",
			Points:     0,
			Evidence:   map[string]any{"note": "no baseline_model_status rows"},
		})
		bs.ScoreTotal = 0
		bs.Level = domain.LevelFromScore(0)
		return bs, nil
	}
	bs.ModelEnd = modelStatus.ModelEnd
	bs.HasModel = true

	activityObs, episodesUsed, err := s.Baselines.ObservedActivity(ctx, room, bucketStart, bucketEnd, defaultPetWeight, defaultUnknownWeight)
	if err != nil {
		return domain.BucketScore{}, err
	}
	doorObs, err := s.Baselines.ObservedDoorEvents(ctx, room, bucketStart, bucketEnd)
	if err != nil {
		return domain.BucketScore{}, err
	}

	rb, hasRB, err := s.Baselines.RoomBucket(ctx, modelStatus.ModelEnd, dow, isWeekend, room, idx)
	if err != nil {
		return domain.BucketScore{}, err
	}
	if !hasRB {
		bs.Reasons = append(bs.Reasons, domain.Reason{
			ReasonCode: "BASELINE_MISSING_ROOM_BUCKET",
			Component:  "meta",
			Points:     0,
			Evidence:   map[string]any{"room": room, "bucket_idx": idx, "dow": dow, "is_weekend": isWeekend},
		})
	} else {
		if rb.ActivitySupportN <= 0 {
			bs.Reasons = append(bs.Reasons, domain.Reason{
				ReasonCode: "BASELINE_ACTIVITY_UNSUPPORTED",
				Component:  "intensity",
				Points:     0,
				Evidence:   map[string]any{"support_n": rb.ActivitySupportN, "mu": rb.ActivityMedian, "sigma": rb.ActivitySigma},
			})
		} else {
			sigmaFloor := rb.SigmaFloor
			if sigmaFloor <= 0 {
				sigmaFloor = 0.1
			}
			sigmaEff := math.Max(rb.ActivitySigma, sigmaFloor)
			z := 0.0
			if sigmaEff > 0 {
				z = (activityObs - rb.ActivityMedian) / sigmaEff
			}
			zPos := math.Max(0, z)
			bs.ScoreIntensity = clamp((zPos-2.0)/1.0, 0, 3)
			if bs.ScoreIntensity > 0 {
				bs.Reasons = append(bs.Reasons, domain.Reason{
					ReasonCode: "INTENSITY_ACTIVITY_Z",
					Component:  "intensity",
					Points:     bs.ScoreIntensity,
					Evidence: map[string]any{
						"obs": activityObs, "mu": rb.ActivityMedian, "sigma_eff": sigmaEff,
						"z": z, "support_n": rb.ActivitySupportN, "episodes_used": episodesUsed,
					},
				})
			}

			if rb.DoorSupportN <= 0 {
				bs.Reasons = append(bs.Reasons, domain.Reason{
					ReasonCode: "BASELINE_DOOR_UNSUPPORTED",
					Component:  "event",
					Points:     0,
					Evidence:   map[string]any{"support_n": rb.DoorSupportN, "mu": rb.DoorMedian, "sigma": rb.DoorSigma},
				})
			} else {
				dsigmaEff := math.Max(rb.DoorSigma, sigmaFloor)
				dz := 0.0
				if dsigmaEff > 0 {
					dz = (float64(doorObs) - rb.DoorMedian) / dsigmaEff
				}
				dzPos := math.Max(0, dz)
				bs.ScoreEvent = clamp((dzPos-1.0)/1.0, 0, 3)
				if bs.ScoreEvent > 0 {
					bs.Reasons = append(bs.Reasons, domain.Reason{
						ReasonCode: "EVENT_DOOR_Z",
						Component:  "event",
						Points:     bs.ScoreEvent,
						Evidence: map[string]any{
							"door_obs": doorObs, "mu": rb.DoorMedian, "sigma_eff": dsigmaEff,
							"z": dz, "support_n": rb.DoorSupportN,
						},
					})
				}
			}
		}
	}

	prevRoom, hasPrev, err := s.Baselines.PrevRoom(ctx, bucketStart)
	if err != nil {
		return domain.BucketScore{}, err
	}
	bs.PrevRoom, bs.HasPrev = prevRoom, hasPrev

	if hasPrev && prevRoom != room {
		tr, hasTr, err := s.Baselines.Transition(ctx, modelStatus.ModelEnd, dow, isWeekend, idx, prevRoom, room)
		if err != nil {
			return domain.BucketScore{}, err
		}
		if !hasTr {
			bs.Reasons = append(bs.Reasons, domain.Reason{
				ReasonCode: "TRANSITION_BASELINE_MISSING",
				Component:  "sequence",
				Points:     0,
				Evidence:   map[string]any{"from_room": prevRoom, "to_room": room},
			})
		} else {
			pEff := math.Max(tr.PSmoothed, pFloor)
			rarity := -math.Log(pEff)
			bs.ScoreSequence = clamp((rarity-2.0)/2.0, 0, 3)
			if bs.ScoreSequence > 0 {
				bs.Reasons = append(bs.Reasons, domain.Reason{
					ReasonCode: "SEQUENCE_TRANSITION_RARITY",
					Component:  "sequence",
					Points:     bs.ScoreSequence,
					Evidence: map[string]any{
						"from_room": prevRoom, "to_room": room, "p": tr.PSmoothed, "p_floor": pFloor,
						"rarity": rarity, "trans_count": tr.TransCount, "from_total": tr.FromTotal, "alpha": tr.Alpha,
					},
				})
			}
		}
	}

	bs.ScoreTotal = bs.ScoreIntensity + bs.ScoreEvent + bs.ScoreSequence
	bs.Level = domain.LevelFromScore(bs.ScoreTotal)
	return bs, nil
}
