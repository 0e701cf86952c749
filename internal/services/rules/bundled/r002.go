package bundled

import (
	"context"
	"time"

	ptime "aginosd/internal/platform/time"
	evdom "aginosd/internal/services/events/domain"
	"aginosd/internal/services/rules/domain"
)

const R002ID = "R-002"

// ClockWindow is the configured night clock-time window, e.g. 23:00->06:00,
// spanning midnight. Membership is a pure time-of-day check against the
// event's own timestamp, independent of calendar date, matching the
// original's _is_night predicate.
type ClockWindow struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
	Loc                    *time.Location
}

func (w ClockWindow) contains(ts time.Time) bool {
	lt := ts.In(w.Loc)
	t := lt.Hour()*60 + lt.Minute()
	start := w.StartHour*60 + w.StartMinute
	end := w.EndHour*60 + w.EndMinute
	if start <= end {
		return t >= start && t < end
	}
	// spans midnight
	return t >= start || t < end
}

// ParseClockWindow parses "HH:MM" start/end strings into a ClockWindow
func ParseClockWindow(loc *time.Location, startLocal, endLocal string) (ClockWindow, error) {
	sh, sm, err := ptime.ParseHHMM(startLocal)
	if err != nil {
		return ClockWindow{}, err
	}
	eh, em, err := ptime.ParseHHMM(endLocal)
	if err != nil {
		return ClockWindow{}, err
	}
	return ClockWindow{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em, Loc: loc}, nil
}

// NewR002 builds the front-door-open-at-night rule: HIGH if any door event
// carries state "open" while its timestamp falls inside the configured
// night window. Evidence collects the raw event id string; ids may be
// ULIDs or other non-UUID identifiers, not only UUIDs.
func NewR002(reader evdom.ReaderPort, window ClockWindow) domain.EvalFunc {
	return func(ctx context.Context, since, until, now time.Time) ([]domain.Deviation, error) {
		rows, err := reader.Query(ctx, since, until, evdom.Filter{Category: evdom.CategoryDoor}, 0)
		if err != nil {
			return nil, err
		}

		triggered := false
		var evidence []string
		for _, r := range rows {
			if r.State() != "open" {
				continue
			}
			if !window.contains(r.Timestamp) {
				continue
			}
			triggered = true
			if r.ID != "" {
				evidence = append(evidence, r.ID)
			}
		}

		if !triggered {
			return nil, nil
		}
		return []domain.Deviation{{
			RuleID:      R002ID,
			Timestamp:   now,
			Severity:    domain.SeverityHigh,
			Title:       "Front door opened at night",
			Explanation: "The front door was opened during the configured night window. Check whether this was expected.",
			Evidence:    evidence,
			Window:      domain.Window{Since: since, Until: until},
		}}, nil
	}
}
