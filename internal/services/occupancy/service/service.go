// Package service implements C12's occupancy estimator, replaying door and
// presence events in order the way services/episodes' builder replays an
// event stream into per-room state.
package service

import (
	"strings"
	"time"

	evdom "aginosd/internal/services/events/domain"
	"aginosd/internal/services/occupancy/domain"
)

// Estimator reconstructs HOME/AWAY/UNKNOWN from an ordered event window
type Estimator struct {
	cfg domain.Config
}

// NewEstimator constructs an Estimator with the given config
func NewEstimator(cfg domain.Config) *Estimator { return &Estimator{cfg: cfg} }

// Estimate replays events (chronological, door+presence only) and a last
// heartbeat timestamp, applying the decision rules at each event and
// finally at now, returning the resulting state
func (e *Estimator) Estimate(events []evdom.Event, lastHeartbeat *time.Time, now time.Time) domain.Estimate {
	presenceOn := map[string]bool{} // entity_id -> on
	presenceRoom := map[string]string{}

	state := domain.StateUnknown
	var openFrontDoor *time.Time
	var exitClose *time.Time
	var entryDoorOpen *time.Time

	apply := func(asOf time.Time) {
		if e.anyStrongOn(presenceOn, presenceRoom) {
			state = domain.StateHome
			return
		}
		if exitClose != nil {
			quietSince := exitClose.Add(time.Duration(e.cfg.ExitQuietMinutes) * time.Minute)
			if !asOf.Before(quietSince) {
				state = domain.StateAway
				return
			}
		}
		if state == domain.StateAway && entryDoorOpen != nil && !asOf.After(entryDoorOpen.Add(time.Duration(e.cfg.EntryWindowMinutes)*time.Minute)) {
			// entry window still pending completion by a PRIMARY presence_on
			return
		}
		if state != domain.StateHome && state != domain.StateAway {
			state = domain.StateUnknown
		}
	}

	for i := range events {
		ev := events[i]
		switch ev.Category {
		case evdom.CategoryPresence:
			on := isOn(ev.State())
			presenceOn[ev.EntityID] = on
			presenceRoom[ev.EntityID] = ev.Room
			if state == domain.StateAway && on && e.isPrimary(ev.Room) && entryDoorOpen != nil &&
				!ev.Timestamp.After(entryDoorOpen.Add(time.Duration(e.cfg.EntryWindowMinutes)*time.Minute)) {
				state = domain.StateHome
				exitClose, entryDoorOpen = nil, nil
			}
		case evdom.CategoryDoor:
			if !isFrontDoor(ev) {
				continue
			}
			switch strings.ToLower(ev.State()) {
			case "open", "on", "true":
				ts := ev.Timestamp
				openFrontDoor = &ts
				if state == domain.StateAway {
					entryDoorOpen = &ts
				}
			case "closed", "close", "off", "false":
				if openFrontDoor != nil {
					gap := ev.Timestamp.Sub(*openFrontDoor)
					if gap >= 0 && int(gap.Seconds()) <= e.cfg.OpenCloseMaxSeconds {
						ts := ev.Timestamp
						exitClose = &ts
					}
					openFrontDoor = nil
				}
			}
		}
		apply(ev.Timestamp)
	}
	apply(now)

	isLive := false
	if lastHeartbeat != nil {
		isLive = now.Sub(*lastHeartbeat) <= time.Duration(e.cfg.LiveMinutes)*time.Minute
	}

	return domain.Estimate{
		State:  state,
		AsOf:   now,
		IsLive: isLive,
		Evidence: map[string]any{
			"any_strong_on": e.anyStrongOn(presenceOn, presenceRoom),
			"exit_close":    exitClose,
		},
	}
}

func (e *Estimator) anyStrongOn(presenceOn map[string]bool, presenceRoom map[string]string) bool {
	for entity, on := range presenceOn {
		if on && e.isStrong(presenceRoom[entity]) {
			return true
		}
	}
	return false
}

func (e *Estimator) isStrong(room string) bool {
	for _, r := range e.cfg.StrongRooms {
		if strings.EqualFold(r, room) {
			return true
		}
	}
	return false
}

func (e *Estimator) isPrimary(room string) bool {
	for _, r := range e.cfg.PrimaryRooms {
		if strings.EqualFold(r, room) {
			return true
		}
	}
	return false
}

func isOn(state string) bool {
	switch strings.ToLower(state) {
	case "on", "true", "1", "home", "occupied":
		return true
	default:
		return false
	}
}

func isFrontDoor(ev evdom.Event) bool {
	return strings.EqualFold(ev.DoorName(), "front")
}
