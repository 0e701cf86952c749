// Package repo caches auxiliary-service insights in ClickHouse, grounded on
// platform/store/ch's Clickhouse seam, used elsewhere in the pack as a
// cold-storage sink for closed anomaly episodes and deviations.
package repo

import (
	"context"
	"time"

	"aginosd/internal/platform/store"
	"aginosd/internal/services/insights/domain"
)

// Cache reads/writes the insights_cache ClickHouse table
type Cache struct{ ch store.Clickhouse }

// NewCache constructs a Cache bound to a ClickHouse connection
func NewCache(ch store.Clickhouse) *Cache { return &Cache{ch: ch} }

type cacheRow struct {
	Room          string    `ch:"room"`
	WindowStart   time.Time `ch:"window_start"`
	WindowEnd     time.Time `ch:"window_end"`
	EventCount    int32     `ch:"event_count"`
	QuietestHour  int8      `ch:"quietest_hour"`
	BusiestHour   int8      `ch:"busiest_hour"`
	AvgGapSeconds float64   `ch:"avg_gap_seconds"`
	GeneratedAt   time.Time `ch:"generated_at"`
}

// Get returns a cached insight for room covering exactly [since, until), if
// one was written within the last hour; ok=false means the caller should
// fall through to the live auxiliary service call.
func (c *Cache) Get(ctx context.Context, room string, since, until time.Time) (domain.Insight, bool, error) {
	rows, err := c.ch.Query(ctx, `
		SELECT room, window_start, window_end, event_count, quietest_hour, busiest_hour, avg_gap_seconds, generated_at
		FROM insights_cache
		WHERE room = ? AND window_start = ? AND window_end = ? AND generated_at > ?
		ORDER BY generated_at DESC
		LIMIT 1
	`, room, since.UTC(), until.UTC(), time.Now().Add(-time.Hour).UTC())
	if err != nil {
		return domain.Insight{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.Insight{}, false, rows.Err()
	}
	var row cacheRow
	if err := rows.Scan(
		&row.Room, &row.WindowStart, &row.WindowEnd, &row.EventCount,
		&row.QuietestHour, &row.BusiestHour, &row.AvgGapSeconds, &row.GeneratedAt,
	); err != nil {
		return domain.Insight{}, false, err
	}
	return domain.Insight{
		Room: row.Room, WindowStart: row.WindowStart, WindowEnd: row.WindowEnd,
		EventCount: int(row.EventCount), QuietestHour: int(row.QuietestHour), BusiestHour: int(row.BusiestHour),
		AvgGapSeconds: row.AvgGapSeconds, GeneratedAt: row.GeneratedAt,
	}, true, nil
}

// Put writes a freshly fetched insight to the cache
func (c *Cache) Put(ctx context.Context, in domain.Insight) error {
	return c.ch.Insert(ctx, "insights_cache", cacheRow{
		Room: in.Room, WindowStart: in.WindowStart, WindowEnd: in.WindowEnd,
		EventCount: int32(in.EventCount), QuietestHour: int8(in.QuietestHour), BusiestHour: int8(in.BusiestHour),
		AvgGapSeconds: in.AvgGapSeconds, GeneratedAt: in.GeneratedAt,
	})
}
