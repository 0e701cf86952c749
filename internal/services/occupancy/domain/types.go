// Package domain defines the occupancy estimator's state machine, grounded
// on the same event-sourcing idiom services/events and services/episodes
// use to reconstruct last-known state from an ordered event stream.
package domain

import "time"

// State is the coarse home-occupancy state
type State string

const (
	StateHome    State = "HOME"
	StateAway    State = "AWAY"
	StateUnknown State = "UNKNOWN"
)

// Config tunes the estimator's thresholds and room roles
type Config struct {
	// StrongRooms are rooms whose presence=on is conclusive evidence of HOME
	StrongRooms []string
	// PrimaryRooms are rooms whose presence=on completes an AWAY->HOME entry
	PrimaryRooms []string

	ExitQuietMinutes     int
	EntryWindowMinutes   int
	OpenCloseMaxSeconds  int
	LiveMinutes          int
}

// DefaultConfig mirrors spec.md's §4.12 defaults
func DefaultConfig() Config {
	return Config{
		ExitQuietMinutes:    60,
		EntryWindowMinutes:  7,
		OpenCloseMaxSeconds: 120,
		LiveMinutes:         15,
	}
}

// Estimate is the estimator's output at a point in time
type Estimate struct {
	State    State
	AsOf     time.Time
	IsLive   bool
	Evidence map[string]any
}
