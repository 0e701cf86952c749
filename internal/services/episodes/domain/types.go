// Package domain defines the per-room episode draft and its persisted shape,
// grounded on original_source/scripts/episodes_build.py's EpisodeDraft.
package domain

import "time"

// CloseReason is how an episode's end was determined
type CloseReason string

const (
	CloseReasonOffEvent CloseReason = "off_event"
	CloseReasonTimeout  CloseReason = "timeout"
)

// Quality is a coarse confidence signal on the episode's boundaries
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// TODBucket is the coarse time-of-day bucket stamped on each episode
type TODBucket string

const (
	TODNight   TODBucket = "night"
	TODMorning TODBucket = "morning"
	TODDay     TODBucket = "day"
	TODEvening TODBucket = "evening"
)

// TODBucketUTC classifies an hour-of-day (UTC) into a coarse bucket
func TODBucketUTC(t time.Time) TODBucket {
	h := t.UTC().Hour()
	switch {
	case h < 7:
		return TODNight
	case h < 12:
		return TODMorning
	case h < 18:
		return TODDay
	default:
		return TODEvening
	}
}

// Episode is one segmented, classified per-room activity episode
type Episode struct {
	Room          string
	PrimarySensor string
	SensorSet     []string

	StartTS        time.Time
	LastActivityTS time.Time
	EndTS          time.Time

	Total         int
	Motion        int
	PresenceOn    int
	PresenceOff   int

	DoorBeforeS *int
	DoorDuring  bool
	DoorAfterS  *int

	FirstEventID string
	LastEventID  string

	SawPresenceOn bool
	CloseReason   CloseReason
	TimeoutS      int
	Quality       Quality
	QualityFlags  []string

	TODBucket TODBucket
	Weekday   time.Weekday

	// Classification (rules_v1)
	Class                  Class
	PHuman, PPet, PUnknown float64
	ClassifierVersion      string
	Reasons                []Reason
	ReasonSummary          string
}

// DurationSeconds returns end-start in whole seconds, floored at 0
func (e Episode) DurationSeconds() int {
	d := int(e.EndTS.Sub(e.StartTS).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// EventRatePerMinute is Total events over the episode's duration in minutes
func (e Episode) EventRatePerMinute() float64 {
	d := e.DurationSeconds()
	if d <= 0 {
		return 0
	}
	return float64(e.Total) / (float64(d) / 60.0)
}

// Class is the rules_v1 classification outcome
type Class string

const (
	ClassHuman   Class = "human"
	ClassPet     Class = "pet"
	ClassUnknown Class = "unknown"
)

// Direction is which class a Reason's evidence points toward
type Direction string

const (
	DirectionHuman   Direction = "human"
	DirectionPet     Direction = "pet"
	DirectionUnknown Direction = "unknown"
)

// Reason is one explainable scoring contribution
type Reason struct {
	Code      string
	Direction Direction
	Weight    float64
	Evidence  map[string]any
}
