// Package repo persists job_status rows, grounded on
// original_source/backend/services/proposals_miner.py's _set_job_status
// upsert.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"aginosd/internal/modkit/repokit"
	"aginosd/internal/services/scheduler/domain"
)

type binder struct{}

// NewPG constructs a binder for the Postgres job status store
func NewPG() repokit.Binder[domain.StatusStore] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) domain.StatusStore { return &pg{q: q} }

type pg struct{ q repokit.Queryer }

func (s *pg) Set(ctx context.Context, jobKey domain.JobKey, ok bool, now time.Time, payload map[string]any, errMsg string) error {
	body, _ := json.Marshal(payload)
	var lastOK, lastErr *time.Time
	var errText *string
	if ok {
		lastOK = &now
	} else {
		lastErr = &now
		if errMsg == "" {
			errMsg = "unknown error"
		}
		errText = &errMsg
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO job_status (job_key, last_run_at, last_ok_at, last_error_at, last_error_msg, last_payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_key) DO UPDATE SET
		  last_run_at = EXCLUDED.last_run_at,
		  last_ok_at = COALESCE(EXCLUDED.last_ok_at, job_status.last_ok_at),
		  last_error_at = COALESCE(EXCLUDED.last_error_at, job_status.last_error_at),
		  last_error_msg = EXCLUDED.last_error_msg,
		  last_payload = EXCLUDED.last_payload
	`, string(jobKey), now.UTC(), lastOK, lastErr, errText, string(body))
	return err
}
