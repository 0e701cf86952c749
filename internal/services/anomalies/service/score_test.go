package service

import (
	"context"
	"testing"
	"time"

	adom "aginosd/internal/services/anomalies/domain"
	bdom "aginosd/internal/services/baselines/domain"
)

// fakeBaselines is a hand-rolled bdom.Reader stub: every lookup is
// tri-state, matching the port's (value, supported, error) contract.
type fakeBaselines struct {
	modelEnd    time.Time
	hasModel    bool
	roomBucket  bdom.RoomBucket
	hasRoomBkt  bool
	transition  bdom.Transition
	hasTrans    bool
	prevRoom    string
	hasPrev     bool
	activityObs float64
	episodes    int
	doorObs     int
}

func (f *fakeBaselines) LatestModelEnd(ctx context.Context) (bdom.ModelStatus, bool, error) {
	return bdom.ModelStatus{ModelEnd: f.modelEnd}, f.hasModel, nil
}

func (f *fakeBaselines) RoomBucket(ctx context.Context, modelEnd time.Time, dow int, isWeekend bool, room string, bucketIdx int) (bdom.RoomBucket, bool, error) {
	return f.roomBucket, f.hasRoomBkt, nil
}

func (f *fakeBaselines) Transition(ctx context.Context, modelEnd time.Time, dow int, isWeekend bool, bucketIdx int, fromRoom, toRoom string) (bdom.Transition, bool, error) {
	return f.transition, f.hasTrans, nil
}

func (f *fakeBaselines) PrevRoom(ctx context.Context, t time.Time) (string, bool, error) {
	return f.prevRoom, f.hasPrev, nil
}

func (f *fakeBaselines) ObservedActivity(ctx context.Context, room string, start, end time.Time, petWeight, unknownWeight float64) (float64, int, error) {
	return f.activityObs, f.episodes, nil
}

func (f *fakeBaselines) ObservedDoorEvents(ctx context.Context, room string, start, end time.Time) (int, error) {
	return f.doorObs, nil
}

func TestScoreNoBaselineModelShortCircuits(t *testing.T) {
	t.Parallel()

	s := NewScorer(&fakeBaselines{hasModel: false})
	bucket := time.Date(2026, 1, 10, 23, 15, 0, 0, time.UTC)

	bs, err := s.Score(context.Background(), "living_room", bucket)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if bs.HasModel {
		t.Fatal("HasModel should be false when no baseline model exists")
	}
	if bs.ScoreTotal != 0 || bs.Level != adom.LevelGreen {
		t.Fatalf("expected zero score / GREEN level, got total=%v level=%v", bs.ScoreTotal, bs.Level)
	}
	if len(bs.Reasons) != 1 || bs.Reasons[0].ReasonCode != "BASELINE_STATUS_MISSING" {
		t.Fatalf("expected a single BASELINE_STATUS_MISSING reason, got %+v", bs.Reasons)
	}
}

func TestScoreMissingRoomBucketAddsUnsupportedReason(t *testing.T) {
	t.Parallel()

	s := NewScorer(&fakeBaselines{
		hasModel:   true,
		modelEnd:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		hasRoomBkt: false,
	})
	bucket := time.Date(2026, 1, 10, 23, 15, 0, 0, time.UTC)

	bs, err := s.Score(context.Background(), "living_room", bucket)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if !bs.HasModel {
		t.Fatal("HasModel should be true once a model end is found")
	}
	if bs.ScoreTotal != 0 {
		t.Fatalf("ScoreTotal = %v, want 0 with no room bucket baseline", bs.ScoreTotal)
	}
	found := false
	for _, r := range bs.Reasons {
		if r.ReasonCode == "BASELINE_MISSING_ROOM_BUCKET" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected BASELINE_MISSING_ROOM_BUCKET reason, got %+v", bs.Reasons)
	}
}

func TestScoreIntensityAndEventZScores(t *testing.T) {
	t.Parallel()

	s := NewScorer(&fakeBaselines{
		hasModel: true,
		modelEnd: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		roomBucket: bdom.RoomBucket{
			ActivityMedian: 1.0, ActivitySigma: 1.0, ActivitySupportN: 20, SigmaFloor: 0.1,
			DoorMedian: 0.0, DoorSigma: 1.0, DoorSupportN: 20,
		},
		hasRoomBkt:  true,
		activityObs: 5.0, // z = (5-1)/1 = 4, zPos=4, scoreIntensity = clamp((4-2)/1,0,3) = 2
		doorObs:     3,   // z = (3-0)/1 = 3, zPos=3, scoreEvent = clamp((3-1)/1,0,3) = 2
	})
	bucket := time.Date(2026, 1, 10, 23, 15, 0, 0, time.UTC)

	bs, err := s.Score(context.Background(), "living_room", bucket)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if bs.ScoreIntensity != 2 {
		t.Fatalf("ScoreIntensity = %v, want 2", bs.ScoreIntensity)
	}
	if bs.ScoreEvent != 2 {
		t.Fatalf("ScoreEvent = %v, want 2", bs.ScoreEvent)
	}
	if bs.ScoreTotal != 4 {
		t.Fatalf("ScoreTotal = %v, want 4", bs.ScoreTotal)
	}
	if bs.Level != adom.LevelRed {
		t.Fatalf("Level = %v, want RED at total score 4", bs.Level)
	}
}

func TestScoreSequenceRarityOnRoomTransition(t *testing.T) {
	t.Parallel()

	s := NewScorer(&fakeBaselines{
		hasModel:   true,
		modelEnd:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		hasRoomBkt: false, // isolate the sequence component
		prevRoom:   "kitchen",
		hasPrev:    true,
		transition: bdom.Transition{PSmoothed: 0.01, TransCount: 1, FromTotal: 100, Alpha: 1},
		hasTrans:   true,
	})
	bucket := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)

	bs, err := s.Score(context.Background(), "living_room", bucket)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if bs.ScoreSequence <= 0 {
		t.Fatalf("ScoreSequence = %v, want > 0 for a rare transition", bs.ScoreSequence)
	}
	if bs.PrevRoom != "kitchen" || !bs.HasPrev {
		t.Fatalf("PrevRoom/HasPrev not populated: %+v", bs)
	}
}

func TestScoreSameRoomSkipsSequenceComponent(t *testing.T) {
	t.Parallel()

	s := NewScorer(&fakeBaselines{
		hasModel:   true,
		modelEnd:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		hasRoomBkt: false,
		prevRoom:   "living_room",
		hasPrev:    true,
	})
	bucket := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)

	bs, err := s.Score(context.Background(), "living_room", bucket)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if bs.ScoreSequence != 0 {
		t.Fatalf("ScoreSequence = %v, want 0 when prev room == current room", bs.ScoreSequence)
	}
}
