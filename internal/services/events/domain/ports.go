package domain

import (
	"context"
	"time"
)

// ReaderPort is the read-only event store contract every rule, builder, and
// scorer is given; since/until is a half-open window [since, until).
type ReaderPort interface {
	Query(ctx context.Context, since, until time.Time, filter Filter, limit int) ([]Event, error)
}

// WriterPort accepts freshly ingested events at the external boundary
type WriterPort interface {
	Write(ctx context.Context, e Event) error
}
