// Package bundled holds the built-in rule_id evaluators R-001..R-003,
// grounded on original_source/backend/services/rules/r00{1,2,3}.py.
package bundled

import (
	"context"
	"time"

	evdom "aginosd/internal/services/events/domain"
	"aginosd/internal/services/rules/domain"
)

const R001ID = "R-001"

// NewR001 builds the no-motion rule: MEDIUM if zero motion events occur in
// the evaluated window.
func NewR001(reader evdom.ReaderPort) domain.EvalFunc {
	return func(ctx context.Context, since, until, now time.Time) ([]domain.Deviation, error) {
		rows, err := reader.Query(ctx, since, until, evdom.Filter{Category: evdom.CategoryMotion}, 1)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, nil
		}
		return []domain.Deviation{{
			RuleID:      R001ID,
			Timestamp:   now,
			Severity:    domain.SeverityMedium,
			Title:       "No motion detected in the evaluated window",
			Explanation: "No motion events were recorded in the evaluated window. Check the sensor, its coverage, or whether the occupant has been inactive or away.",
			Window:      domain.Window{Since: since, Until: until},
		}}, nil
	}
}
