// Package domain defines the auxiliary statistics service's insight shape
// and the read-through port services/api's insights handler depends on.
package domain

import (
	"context"
	"time"
)

// Insight is one night/morning activity summary for a room, computed by the
// external auxiliary statistics service from raw events.
type Insight struct {
	Room           string
	WindowStart    time.Time
	WindowEnd      time.Time
	EventCount     int
	QuietestHour   int
	BusiestHour    int
	AvgGapSeconds  float64
	GeneratedAt    time.Time
}

// Reader is the read-through port: callers never talk to the auxiliary
// service or its cache directly.
type Reader interface {
	NightMorningInsights(ctx context.Context, room string, since, until time.Time) (Insight, error)
}

// UpstreamResult is the auxiliary service's decoded response shape, shared
// between the gRPC client (which produces it) and the proxy service (which
// consumes it) so the two packages agree on a concrete type.
type UpstreamResult struct {
	EventCount    int
	QuietestHour  int
	BusiestHour   int
	AvgGapSeconds float64
}
