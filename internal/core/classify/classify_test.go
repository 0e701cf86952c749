package classify

import (
	"testing"
	"time"

	epdom "aginosd/internal/services/episodes/domain"
)

func episodeAt(start time.Time, durSeconds int, total int) epdom.Episode {
	return epdom.Episode{
		StartTS: start,
		EndTS:   start.Add(time.Duration(durSeconds) * time.Second),
		Total:   total,
	}
}

func TestScoreHumanDoorBeforeStart(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	ep := episodeAt(start, 90, 20)
	before := 15
	ep.DoorBeforeS = &before
	ep.SawPresenceOn = true
	ep.PresenceOn = 1
	ep.PresenceOff = 1

	class, pHuman, pPet, _, reasons, summary := Score(ep)

	if class != epdom.ClassHuman {
		t.Fatalf("class = %q, want human (pHuman=%v pPet=%v)", class, pHuman, pPet)
	}
	if pHuman <= pPet {
		t.Fatalf("pHuman=%v should exceed pPet=%v", pHuman, pPet)
	}
	if len(reasons) == 0 {
		t.Fatal("expected at least one reason")
	}
	if summary == "no_reasons" {
		t.Fatal("summary should reflect the reasons found")
	}
}

func TestScorePetShortHighRateNoDoor(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	// 20 events in 10 seconds: well above the 6/min threshold, short duration, no door evidence
	ep := episodeAt(start, 10, 20)

	class, pHuman, pPet, _, _, _ := Score(ep)

	if class != epdom.ClassPet {
		t.Fatalf("class = %q, want pet (pHuman=%v pPet=%v)", class, pHuman, pPet)
	}
	if pPet <= pHuman {
		t.Fatalf("pPet=%v should exceed pHuman=%v", pPet, pHuman)
	}
}

func TestScoreUnknownWeakEvidence(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	// No door evidence, no presence, a handful of events over a long duration:
	// none of the human or pet reasons fire, so the unknown baseline wins.
	ep := episodeAt(start, 30, 2)

	class, _, _, pUnknown, _, _ := Score(ep)

	if class != epdom.ClassUnknown {
		t.Fatalf("class = %q, want unknown", class)
	}
	if pUnknown <= 0 {
		t.Fatalf("pUnknown = %v, want > 0", pUnknown)
	}
}

func TestScoreTimeoutCloseAddsUnknownReason(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	ep := episodeAt(start, 15, 3)
	ep.CloseReason = epdom.CloseReasonTimeout
	ep.TimeoutS = 300

	_, _, _, _, reasons, _ := Score(ep)

	found := false
	for _, r := range reasons {
		if r.Code == "TIMEOUT_CLOSE" {
			found = true
			if r.Direction != epdom.DirectionUnknown {
				t.Fatalf("TIMEOUT_CLOSE direction = %q, want unknown", r.Direction)
			}
		}
	}
	if !found {
		t.Fatal("expected TIMEOUT_CLOSE reason for a timeout-closed episode")
	}
}

func TestScoreLowConfidenceMarginFallsBackToUnknown(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)
	// Door-during plus a complete presence episode nudges pHuman just past
	// the unknown baseline, but not far enough to clear the 0.55/0.10 gate.
	ep := episodeAt(start, 30, 3)
	ep.DoorDuring = true
	ep.SawPresenceOn = true
	ep.PresenceOn = 1
	ep.PresenceOff = 1

	class, pHuman, _, pUnknown, reasons, _ := Score(ep)

	if class != epdom.ClassUnknown {
		t.Fatalf("class = %q, want unknown (pHuman=%v pUnknown=%v)", class, pHuman, pUnknown)
	}
	foundLowConfidence := false
	for _, r := range reasons {
		if r.Code == "LOW_CONFIDENCE" {
			foundLowConfidence = true
		}
	}
	if !foundLowConfidence {
		t.Fatal("expected LOW_CONFIDENCE reason when margin gate fails")
	}
}

func TestScoreProbabilitiesSumToOne(t *testing.T) {
	t.Parallel()

	cases := []epdom.Episode{
		episodeAt(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), 10, 20),
		episodeAt(time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC), 200, 2),
		episodeAt(time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC), 0, 0),
	}

	for _, ep := range cases {
		_, pHuman, pPet, pUnknown, _, _ := Score(ep)
		sum := pHuman + pPet + pUnknown
		if sum < 0.999 || sum > 1.001 {
			t.Fatalf("probabilities sum to %v, want ~1.0 (pHuman=%v pPet=%v pUnknown=%v)", sum, pHuman, pPet, pUnknown)
		}
	}
}

// TestScoreEpisodeBlipNoDoor mirrors the episode-blip scenario: a presence
// on/off pair 8 seconds apart with no door activity nearby classifies as
// pet, with PRESENCE_BLIP_VERY_SHORT_NO_DOOR contributing weight 0.35 and
// the resulting probabilities clearing the human/pet confidence margin.
func TestScoreEpisodeBlipNoDoor(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC)
	ep := episodeAt(start, 8, 2)
	ep.SawPresenceOn = true
	ep.PresenceOn = 1
	ep.PresenceOff = 1

	class, pHuman, pPet, pUnknown, reasons, _ := Score(ep)

	if class != epdom.ClassPet {
		t.Fatalf("class = %q, want pet (pHuman=%v pPet=%v pUnknown=%v)", class, pHuman, pPet, pUnknown)
	}
	var blipWeight float64
	found := false
	for _, r := range reasons {
		if r.Code == "PRESENCE_BLIP_VERY_SHORT_NO_DOOR" {
			found = true
			blipWeight = r.Weight
		}
	}
	if !found {
		t.Fatalf("expected PRESENCE_BLIP_VERY_SHORT_NO_DOOR among reasons, got %+v", reasons)
	}
	if blipWeight != 0.35 {
		t.Fatalf("PRESENCE_BLIP_VERY_SHORT_NO_DOOR weight = %v, want 0.35", blipWeight)
	}
	if margin := pPet - pUnknown; pPet < 0.55 || margin < 0.10 {
		t.Fatalf("margin rule not satisfied: pPet=%v pUnknown=%v margin=%v", pPet, pUnknown, margin)
	}
}
