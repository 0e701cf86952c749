// Package domain defines the scheduler's per-job status bookkeeping,
// grounded on original_source/backend/services/proposals_miner.py's
// _set_job_status upsert and scheduler.py's runner status fields.
package domain

import (
	"context"
	"time"
)

// JobKey names one of the scheduler's periodic jobs
type JobKey string

const (
	JobRuleEngine JobKey = "rule_engine"
	JobAnomalies  JobKey = "anomalies"
	JobProposals  JobKey = "proposals_miner"
	JobExpirySweep JobKey = "proposals_expiry"
)

// Status is one job's process-local (and persisted) run bookkeeping
type Status struct {
	JobKey      JobKey
	LastRunAt   time.Time
	LastOKAt    *time.Time
	LastErrorAt *time.Time
	LastErrorMsg string
	LastPayload map[string]any
}

// StatusStore persists job status rows
type StatusStore interface {
	Set(ctx context.Context, jobKey JobKey, ok bool, now time.Time, payload map[string]any, errMsg string) error
}
