package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/dedup"
	"horse.fit/dailybrief/internal/globaltime"
	"horse.fit/dailybrief/internal/metrics"
	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
	"horse.fit/dailybrief/internal/scoring"
	"horse.fit/dailybrief/internal/source"
)

const (
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusFatal          = "fatal"

	DefaultSourceTimeout = 30 * time.Second

	fetchOutcomeOK          = "ok"
	fetchOutcomeUnavailable = "unavailable"
	fetchOutcomeTimeout     = "timeout"

	reasonMalformed = "malformed"
)

// RunLedger records run lifecycle rows. It is optional.
type RunLedger interface {
	Start(ctx context.Context, date, policyVersion string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, runID int64, summary model.RunSummary, cause error, finishedAt time.Time) error
}

type Deps struct {
	Adapters      []source.Adapter
	Policy        *policy.Policy
	Engine        *dedup.Engine
	Scorer        *scoring.Scorer
	Store         daily.Store
	Ledger        RunLedger
	Location      *time.Location
	SourceTimeout time.Duration
	Logger        zerolog.Logger
}

type Service struct {
	adapters      []source.Adapter
	policy        *policy.Policy
	engine        *dedup.Engine
	scorer        *scoring.Scorer
	builder       *daily.Builder
	store         daily.Store
	ledger        RunLedger
	location      *time.Location
	sourceTimeout time.Duration
	logger        zerolog.Logger
}

func NewService(deps Deps) (*Service, error) {
	if deps.Policy == nil {
		return nil, fmt.Errorf("policy is nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	engine := deps.Engine
	if engine == nil {
		engine = dedup.NewEngine(deps.Policy, nil, deps.Logger)
	}
	scorer := deps.Scorer
	if scorer == nil {
		scorer = scoring.NewScorer(deps.Policy, deps.Logger, scoring.Options{})
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := deps.SourceTimeout
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}

	return &Service{
		adapters:      deps.Adapters,
		policy:        deps.Policy,
		engine:        engine,
		scorer:        scorer,
		builder:       daily.NewBuilder(deps.Policy),
		store:         deps.Store,
		ledger:        deps.Ledger,
		location:      loc,
		sourceTimeout: timeout,
		logger:        deps.Logger,
	}, nil
}

// SourceFailure names a source that produced nothing for the run.
type SourceFailure struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

type Report struct {
	Date           string              `json:"date"`
	Status         string              `json:"status"`
	PolicyVersion  string              `json:"policy_version"`
	ItemsFetched   int                 `json:"items_fetched"`
	Rejected       []dedup.Rejection   `json:"rejected"`
	MissingSources []SourceFailure     `json:"missing_sources"`
	Events         int                 `json:"events"`
	BriefCount     int                 `json:"brief_count"`
	FullCount      int                 `json:"full_count"`
	Oracle         scoring.OracleStats `json:"oracle"`
	Duration       time.Duration       `json:"duration"`
}

// Summary flattens the report into the ledger row shape.
func (r Report) Summary() model.RunSummary {
	missing := make([]string, 0, len(r.MissingSources))
	for _, f := range r.MissingSources {
		missing = append(missing, f.SourceID)
	}
	return model.RunSummary{
		Status:         r.Status,
		ItemsFetched:   r.ItemsFetched,
		ItemsRejected:  len(r.Rejected),
		Events:         r.Events,
		BriefCount:     r.BriefCount,
		FullCount:      r.FullCount,
		MissingSources: missing,
		OracleUsed:     r.Oracle.Used(),
		OracleSkipped:  r.Oracle.NotUsed(),
	}
}

type fetchResult struct {
	items     []model.RawItem
	malformed []error
	err       error
	outcome   string
}

// RunForDate fetches, clusters, scores, ranks and persists one partition day.
//
// A returned error means the run was fatal and nothing new is visible for date. Otherwise
// the report status is success, or partial_failure when some sources were unavailable.
func (s *Service) RunForDate(ctx context.Context, date string) (Report, error) {
	start := globaltime.Now()
	report := Report{
		Date:           strings.TrimSpace(date),
		PolicyVersion:  s.policy.Version,
		Rejected:       []dedup.Rejection{},
		MissingSources: []SourceFailure{},
	}

	window, err := model.DayRange(report.Date, s.location)
	if err != nil {
		return s.fail(report, start, 0, fmt.Errorf("resolve window: %w", err))
	}
	report.Date = window.Day

	runID := s.startRun(ctx, report.Date, start)

	results, err := s.fetchAll(ctx, window)
	if err != nil {
		return s.fail(report, start, runID, err)
	}

	var items []model.RawItem
	for i, res := range results {
		sourceID := s.adapters[i].ID()
		metrics.RecordSourceFetch(sourceID, res.outcome, len(res.items))
		if res.err != nil {
			report.MissingSources = append(report.MissingSources, SourceFailure{SourceID: sourceID, Error: res.err.Error()})
			s.logger.Warn().Err(res.err).Str("source", sourceID).Str("outcome", res.outcome).Msg("source skipped")
			continue
		}
		items = append(items, res.items...)
		for _, merr := range res.malformed {
			rej := rejectionFor(sourceID, merr)
			report.Rejected = append(report.Rejected, rej)
			s.logger.Warn().Err(merr).Str("source", sourceID).Str("reason", rej.Reason).Msg("malformed item rejected")
		}
	}
	report.ItemsFetched = len(items) + len(report.Rejected)

	if len(s.adapters) == 0 || len(report.MissingSources) == len(s.adapters) {
		return s.fail(report, start, runID, model.ErrNoSources)
	}

	clustered := s.engine.Cluster(items, report.Date)
	report.Rejected = append(report.Rejected, clustered.Rejected...)
	report.Events = len(clustered.Events)
	for _, rej := range report.Rejected {
		metrics.RecordRejected(rej.Reason)
	}
	metrics.EventsClustered.Add(float64(len(clustered.Events)))

	scored, oracleStats := s.scorer.ScoreAll(ctx, clustered.Events, window.End)
	report.Oracle = oracleStats

	out := s.builder.Build(scored, report.Date)
	report.BriefCount = len(out.Brief)
	report.FullCount = len(out.Full)

	if err := ctx.Err(); err != nil {
		return s.fail(report, start, runID, model.PersistenceError("persist day", err))
	}
	if err := s.store.Persist(ctx, out); err != nil {
		if !errors.Is(err, model.ErrPersistence) {
			err = model.PersistenceError("persist day", err)
		}
		return s.fail(report, start, runID, err)
	}

	report.Status = StatusSuccess
	if len(report.MissingSources) > 0 {
		report.Status = StatusPartialFailure
	}
	report.Duration = globaltime.Since(start)
	s.finishRun(runID, report, nil)
	metrics.RecordRun(report.Status, report.Duration.Seconds())

	s.logger.Info().
		Str("date", report.Date).
		Str("status", report.Status).
		Int("items", report.ItemsFetched).
		Int("rejected", len(report.Rejected)).
		Int("events", report.Events).
		Int("brief", report.BriefCount).
		Int("full", report.FullCount).
		Int("oracle_used", oracleStats.Used()).
		Int("missing_sources", len(report.MissingSources)).
		Dur("duration", report.Duration).
		Msg("daily run finished")
	return report, nil
}

// fetchAll runs every adapter concurrently with its own timeout. Source failures are
// reported per result; only cancellation of ctx fails the call.
func (s *Service) fetchAll(ctx context.Context, window model.DateRange) ([]fetchResult, error) {
	results := make([]fetchResult, len(s.adapters))
	g, gctx := errgroup.WithContext(ctx)

	for i, adapter := range s.adapters {
		g.Go(func() error {
			results[i] = s.fetchOne(gctx, adapter, window)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch sources: %w", err)
	}
	return results, nil
}

func (s *Service) fetchOne(ctx context.Context, adapter source.Adapter, window model.DateRange) fetchResult {
	sctx, cancel := context.WithTimeout(ctx, s.sourceTimeout)
	defer cancel()

	seq, err := adapter.Fetch(sctx, window)
	if err == nil {
		items, malformed := source.Collect(seq)
		if sctx.Err() == nil {
			return fetchResult{items: items, malformed: malformed, outcome: fetchOutcomeOK}
		}
		err = model.NewSourceError(adapter.ID(), sctx.Err())
	}

	outcome := fetchOutcomeUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = fetchOutcomeTimeout
	}
	if !errors.Is(err, model.ErrSourceUnavailable) {
		err = model.NewSourceError(adapter.ID(), err)
	}
	return fetchResult{err: err, outcome: outcome}
}

func (s *Service) fail(report Report, start time.Time, runID int64, err error) (Report, error) {
	report.Status = StatusFatal
	report.BriefCount = 0
	report.FullCount = 0
	report.Duration = globaltime.Since(start)
	s.finishRun(runID, report, err)
	metrics.RecordRun(StatusFatal, report.Duration.Seconds())

	s.logger.Error().
		Err(err).
		Str("date", report.Date).
		Int("missing_sources", len(report.MissingSources)).
		Msg("daily run failed")
	return report, err
}

func (s *Service) startRun(ctx context.Context, date string, startedAt time.Time) int64 {
	if s.ledger == nil {
		return 0
	}
	runID, err := s.ledger.Start(ctx, date, s.policy.Version, startedAt)
	if err != nil {
		s.logger.Warn().Err(err).Str("date", date).Msg("failed to record run start")
		return 0
	}
	return runID
}

// finishRun uses a fresh context so the ledger row is closed even when the run was cancelled.
func (s *Service) finishRun(runID int64, report Report, cause error) {
	if s.ledger == nil || runID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ledger.Finish(ctx, runID, report.Summary(), cause, globaltime.Now()); err != nil {
		s.logger.Warn().Err(err).Int64("run_id", runID).Msg("failed to record run result")
	}
}

func rejectionFor(sourceID string, err error) dedup.Rejection {
	var malformed *model.MalformedItemError
	if errors.As(err, &malformed) {
		return dedup.Rejection{
			SourceID: malformed.SourceID,
			Ref:      malformed.Ref,
			Reason:   malformed.Reason,
		}
	}
	return dedup.Rejection{SourceID: sourceID, Reason: reasonMalformed}
}
