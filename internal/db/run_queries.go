package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/dailybrief/internal/model"
)

const maxRunErrorLength = 4000

// StartRun inserts a running ledger row for date and returns its id and uuid.
func (p *Pool) StartRun(ctx context.Context, date, policyVersion string, startedAt time.Time) (int64, string, error) {
	const q = `
INSERT INTO brief.daily_runs (
	run_uuid,
	date,
	status,
	policy_version,
	started_at,
	created_at,
	updated_at
)
VALUES ($1, $2, 'running', $3, $4, $4, $4)
RETURNING run_id
`

	gdb, err := p.db(ctx)
	if err != nil {
		return 0, "", err
	}
	runUUID := uuid.NewString()
	var runID int64
	if err := gdb.Raw(q, runUUID, date, policyVersion, startedAt.UTC()).Row().Scan(&runID); err != nil {
		return 0, "", fmt.Errorf("insert run: %w", err)
	}
	return runID, runUUID, nil
}

// FinishRun records the final status and counts of a run. cause is stored only for fatal runs.
func (p *Pool) FinishRun(ctx context.Context, runID int64, summary model.RunSummary, cause error, finishedAt time.Time) error {
	const q = `
UPDATE brief.daily_runs
SET
	status = $2::brief.daily_run_status,
	items_fetched = $3,
	items_rejected = $4,
	events = $5,
	brief_count = $6,
	full_count = $7,
	missing_sources = $8::jsonb,
	oracle_used = $9,
	oracle_skipped = $10,
	error_message = $11,
	finished_at = $12,
	updated_at = $12
WHERE run_id = $1
`

	missing := summary.MissingSources
	if missing == nil {
		missing = []string{}
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("marshal missing sources: %w", err)
	}

	var errorMessage *string
	if cause != nil {
		msg := strings.TrimSpace(cause.Error())
		if len(msg) > maxRunErrorLength {
			msg = msg[:maxRunErrorLength]
		}
		errorMessage = &msg
	}

	gdb, err := p.db(ctx)
	if err != nil {
		return err
	}
	res := gdb.Exec(q,
		runID,
		summary.Status,
		summary.ItemsFetched,
		summary.ItemsRejected,
		summary.Events,
		summary.BriefCount,
		summary.FullCount,
		string(missingJSON),
		summary.OracleUsed,
		summary.OracleSkipped,
		errorMessage,
		finishedAt.UTC(),
	)
	if res.Error != nil {
		return fmt.Errorf("update run %d: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update run %d: no such run", runID)
	}
	return nil
}
