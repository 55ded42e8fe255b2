package db

import (
	"context"
	"time"

	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/model"
)

// DailyStore persists daily views in Postgres. The replace transaction is the atomic swap.
type DailyStore struct {
	pool *Pool
}

func NewDailyStore(pool *Pool) *DailyStore {
	return &DailyStore{pool: pool}
}

func (s *DailyStore) Persist(ctx context.Context, out daily.DayOutput) error {
	if _, err := time.Parse(model.DateLayout, out.Date); err != nil {
		return model.PersistenceError("validate date", err)
	}
	if err := s.pool.ReplaceDay(ctx, out); err != nil {
		return model.PersistenceError("replace day", err)
	}
	return nil
}

func (s *DailyStore) ReadDay(ctx context.Context, q daily.DayQuery) ([]model.DailyRecord, error) {
	records, found, err := s.pool.QueryDay(ctx, q)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, daily.ErrDayNotFound
	}
	return records, nil
}

func (s *DailyStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunLedger adapts the pool to the pipeline's run ledger.
type RunLedger struct {
	pool *Pool
}

func NewRunLedger(pool *Pool) *RunLedger {
	return &RunLedger{pool: pool}
}

func (l *RunLedger) Start(ctx context.Context, date, policyVersion string, startedAt time.Time) (int64, error) {
	runID, _, err := l.pool.StartRun(ctx, date, policyVersion, startedAt)
	return runID, err
}

func (l *RunLedger) Finish(ctx context.Context, runID int64, summary model.RunSummary, cause error, finishedAt time.Time) error {
	return l.pool.FinishRun(ctx, runID, summary, cause, finishedAt)
}
