package bundled

import (
	"context"
	"fmt"
	"time"

	evdom "aginosd/internal/services/events/domain"
	"aginosd/internal/services/rules/domain"
)

const R003ID = "R-003"

// DefaultFollowupWindow is the interval after a front-door-open event to
// look for a motion "on" reading when rules.R-003.params.followup_minutes
// isn't configured, per original_source's FOLLOWUP_MINUTES = 10.
const DefaultFollowupWindow = 10 * time.Minute

// NewR003 builds the "door opened, no motion afterward" rule: MEDIUM if a
// front-door open event has no motion-on reading within followupWindow.
// The first triggering door event aborts the scan, matching the original's
// `break` after the first match — one deviation per evaluation, not one per
// door event.
func NewR003(reader evdom.ReaderPort, followupWindow time.Duration) domain.EvalFunc {
	if followupWindow <= 0 {
		followupWindow = DefaultFollowupWindow
	}
	return func(ctx context.Context, since, until, now time.Time) ([]domain.Deviation, error) {
		doorRows, err := reader.Query(ctx, since, until, evdom.Filter{Category: evdom.CategoryDoor}, 0)
		if err != nil {
			return nil, err
		}

		for _, d := range doorRows {
			if d.State() != "open" || d.DoorName() != "front" {
				continue
			}

			followUntil := d.Timestamp.Add(followupWindow)
			motionRows, err := reader.Query(ctx, d.Timestamp, followUntil, evdom.Filter{Category: evdom.CategoryMotion}, 0)
			if err != nil {
				return nil, err
			}

			hasMotionOn := false
			for _, m := range motionRows {
				if m.State() == "on" {
					hasMotionOn = true
					break
				}
			}
			if hasMotionOn {
				continue
			}

			var evidence []string
			if d.ID != "" {
				evidence = append(evidence, d.ID)
			}
			return []domain.Deviation{{
				RuleID:      R003ID,
				Timestamp:   now,
				Severity:    domain.SeverityMedium,
				Title:       "Possible unusual event after door",
				Explanation: fmt.Sprintf(
					"The door was opened, but no motion was recorded in the following %s. The occupant may have left, fallen, or the sensors failed to register activity.",
					followupWindow,
				),
				Evidence:    evidence,
				Window:      domain.Window{Since: since, Until: until},
			}}, nil
		}

		return nil, nil
	}
}
