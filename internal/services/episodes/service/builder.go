// Package service implements the per-room episode builder state machine,
// grounded on original_source/scripts/episodes_build.py's build_episodes,
// with an explicit Flush step replacing the original's end-of-stream
// timedelta(seconds=999999) sentinel.
package service

import (
	"strings"
	"time"

	"aginosd/internal/core/classify"
	evdom "aginosd/internal/services/events/domain"
	epdom "aginosd/internal/services/episodes/domain"
)

const doorContextWindow = 60 * time.Second

// Builder segments a chronologically-ordered event stream into per-room
// episodes. It is not safe for concurrent use; callers run one Builder per
// batch and call Flush when the batch ends.
type Builder struct {
	doorsByRoom map[string][]evdom.Event
	openByRoom  map[string]*epdom.Episode
	finished    []epdom.Episode
}

// NewBuilder constructs an empty Builder
func NewBuilder() *Builder {
	return &Builder{
		doorsByRoom: make(map[string][]evdom.Event),
		openByRoom:  make(map[string]*epdom.Episode),
	}
}

// Feed processes events in chronological order. Events outside
// presence/motion/door categories, or without a resolvable room, are
// ignored.
func (b *Builder) Feed(events []evdom.Event) {
	for _, ev := range events {
		b.feedOne(ev)
	}
}

func (b *Builder) feedOne(ev evdom.Event) {
	room := roomOf(ev)
	if room == "" {
		return
	}

	if isDoor(ev) {
		b.doorsByRoom[room] = append(b.doorsByRoom[room], ev)
	}

	b.maybeTimeoutClose(ev.Timestamp, room)

	ep, open := b.openByRoom[room]

	if !open {
		if isPresenceOn(ev) || isMotion(ev) {
			primary := entityOf(ev)
			if primary == "" {
				primary = string(ev.Category)
			}
			n := &epdom.Episode{
				Room:           room,
				PrimarySensor:  primary,
				SensorSet:      []string{primary},
				StartTS:        ev.Timestamp,
				LastActivityTS: ev.Timestamp,
				FirstEventID:   ev.ID,
				LastEventID:    ev.ID,
				Total:          1,
				Quality:        epdom.QualityMedium,
			}
			if isMotion(ev) {
				n.Motion = 1
			}
			if isPresenceOn(ev) {
				n.PresenceOn = 1
				n.SawPresenceOn = true
				n.Quality = epdom.QualityHigh
			}
			b.openByRoom[room] = n
		}
		return
	}

	ep.Total++
	ep.LastEventID = ev.ID
	if eid := entityOf(ev); eid != "" && !contains(ep.SensorSet, eid) {
		ep.SensorSet = append(ep.SensorSet, eid)
	}

	switch {
	case isMotion(ev):
		ep.Motion++
		ep.LastActivityTS = ev.Timestamp
	case isPresenceOn(ev):
		ep.PresenceOn++
		ep.SawPresenceOn = true
		ep.LastActivityTS = ev.Timestamp
	case isPresenceOff(ev):
		ep.PresenceOff++
		if ep.SawPresenceOn {
			b.closeEpisode(ep, ev.Timestamp, epdom.CloseReasonOffEvent)
			delete(b.openByRoom, room)
		}
	case isDoor(ev):
		ep.DoorDuring = true
	}
}

// maybeTimeoutClose closes the room's open episode if its inactivity gap at
// asOf has exceeded its timeout: 180s if it ever saw presence_on, else 90s.
func (b *Builder) maybeTimeoutClose(asOf time.Time, room string) {
	ep, ok := b.openByRoom[room]
	if !ok {
		return
	}
	if ep.SawPresenceOn {
		ep.TimeoutS = 180
	} else {
		ep.TimeoutS = 90
	}
	gap := asOf.Sub(ep.LastActivityTS)
	if gap >= time.Duration(ep.TimeoutS)*time.Second {
		b.closeEpisode(ep, ep.LastActivityTS.Add(time.Duration(ep.TimeoutS)*time.Second), epdom.CloseReasonTimeout)
		delete(b.openByRoom, room)
	}
}

func (b *Builder) closeEpisode(ep *epdom.Episode, endTS time.Time, reason epdom.CloseReason) {
	ep.EndTS = endTS
	ep.CloseReason = reason
	switch reason {
	case epdom.CloseReasonOffEvent:
		if !contains(ep.QualityFlags, "missing_off") {
			ep.Quality = epdom.QualityHigh
		}
	case epdom.CloseReasonTimeout:
		ep.Quality = epdom.QualityLow
		if !contains(ep.QualityFlags, "missing_off") {
			ep.QualityFlags = append(ep.QualityFlags, "missing_off")
		}
	}
	ep.TODBucket = epdom.TODBucketUTC(ep.StartTS)
	ep.Weekday = ep.StartTS.UTC().Weekday()
	b.attachDoorContext(ep)
	b.classify(ep)
	b.finished = append(b.finished, *ep)
}

// Flush closes every still-open episode as a timeout at streamEnd — the
// explicit replacement for the original's end-of-stream sentinel hack.
func (b *Builder) Flush(streamEnd time.Time) {
	for room, ep := range b.openByRoom {
		b.closeEpisode(ep, streamEnd, epdom.CloseReasonTimeout)
		delete(b.openByRoom, room)
	}
}

// Episodes returns every episode closed so far, in close order
func (b *Builder) Episodes() []epdom.Episode { return b.finished }

func (b *Builder) attachDoorContext(ep *epdom.Episode) {
	doors := b.doorsByRoom[ep.Room]

	var bestBefore *evdom.Event
	for i := range doors {
		d := doors[i]
		if !d.Timestamp.After(ep.StartTS) && ep.StartTS.Sub(d.Timestamp) <= doorContextWindow {
			if bestBefore == nil || d.Timestamp.After(bestBefore.Timestamp) {
				bestBefore = &doors[i]
			}
		}
	}
	if bestBefore != nil {
		s := int(ep.StartTS.Sub(bestBefore.Timestamp).Seconds())
		ep.DoorBeforeS = &s
	}

	var bestAfter *evdom.Event
	for i := range doors {
		d := doors[i]
		if !d.Timestamp.Before(ep.EndTS) && d.Timestamp.Sub(ep.EndTS) <= doorContextWindow {
			if bestAfter == nil || d.Timestamp.Before(bestAfter.Timestamp) {
				bestAfter = &doors[i]
			}
		}
	}
	if bestAfter != nil {
		s := int(bestAfter.Timestamp.Sub(ep.EndTS).Seconds())
		ep.DoorAfterS = &s
	}
}

func (b *Builder) classify(ep *epdom.Episode) {
	class, pH, pP, pU, reasons, summary := classify.Score(*ep)
	ep.Class = class
	ep.PHuman, ep.PPet, ep.PUnknown = pH, pP, pU
	ep.Reasons = reasons
	ep.ReasonSummary = summary
	ep.ClassifierVersion = classify.Version
}

func roomOf(ev evdom.Event) string { return ev.Room }
func entityOf(ev evdom.Event) string { return ev.EntityID }

func isDoor(ev evdom.Event) bool  { return ev.Category == evdom.CategoryDoor }
func isMotion(ev evdom.Event) bool { return ev.Category == evdom.CategoryMotion }

func isPresenceOn(ev evdom.Event) bool {
	if ev.Category != evdom.CategoryPresence {
		return false
	}
	switch strings.ToLower(ev.State()) {
	case "on", "true", "1", "home", "occupied":
		return true
	default:
		return false
	}
}

func isPresenceOff(ev evdom.Event) bool {
	if ev.Category != evdom.CategoryPresence {
		return false
	}
	switch strings.ToLower(ev.State()) {
	case "off", "false", "0", "away", "clear", "not_occupied":
		return true
	default:
		return false
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
