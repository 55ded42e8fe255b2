package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"horse.fit/dailybrief/internal/dedup"
	"horse.fit/dailybrief/internal/metrics"
	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
)

const (
	FactorCategory = "category"
	FactorSources  = "sources"
	FactorRecency  = "recency"
	FactorKeywords = "keywords"
	FactorTrust    = "trust"
	FactorOracle   = "oracle"

	defaultOracleConcurrency = 4
	defaultOracleCallTimeout = 20 * time.Second
)

const (
	outcomeApplied = "applied"
	outcomeCached  = "cached"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
	outcomeSkipped = "skipped"
)

type Options struct {
	// Oracle is optional; nil means heuristics only.
	Oracle Oracle
	Cache  Cache
	// Normalizer folds event text for keyword matching. Sharing the engine's
	// normalizer reuses its memo; nil uses a private uncached one.
	Normalizer    *dedup.Normalizer
	Concurrency   int
	RatePerSecond float64
	CallTimeout   time.Duration
}

// OracleStats summarizes oracle outcomes for one scoring pass. The id lists follow the
// input event order.
type OracleStats struct {
	Enabled     bool     `json:"enabled"`
	Applied     int      `json:"applied"`
	Cached      int      `json:"cached"`
	Failed      int      `json:"failed"`
	TimedOut    int      `json:"timed_out"`
	Skipped     int      `json:"skipped"`
	FailedIDs   []string `json:"failed_ids,omitempty"`
	TimedOutIDs []string `json:"timed_out_ids,omitempty"`
	SkippedIDs  []string `json:"skipped_ids,omitempty"`
}

// Used is the number of events whose score carries an oracle delta.
func (s OracleStats) Used() int {
	return s.Applied + s.Cached
}

// NotUsed is the number of events the oracle was asked about but did not adjust.
func (s OracleStats) NotUsed() int {
	return s.Failed + s.TimedOut + s.Skipped
}

func (s *OracleStats) record(outcome, eventID string) {
	switch outcome {
	case outcomeApplied:
		s.Applied++
	case outcomeCached:
		s.Cached++
	case outcomeFailed:
		s.Failed++
		s.FailedIDs = append(s.FailedIDs, eventID)
	case outcomeTimeout:
		s.TimedOut++
		s.TimedOutIDs = append(s.TimedOutIDs, eventID)
	case outcomeSkipped:
		s.Skipped++
		s.SkippedIDs = append(s.SkippedIDs, eventID)
	}
}

type Scorer struct {
	policy     *policy.Policy
	normalizer *dedup.Normalizer
	opts       Options
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func NewScorer(p *policy.Policy, logger zerolog.Logger, opts Options) *Scorer {
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultOracleConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultOracleCallTimeout
	}

	var limiter *rate.Limiter
	if opts.Oracle != nil && opts.RatePerSecond > 0 {
		burst := int(math.Ceil(opts.RatePerSecond))
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = dedup.NewNormalizer(false)
	}

	return &Scorer{
		policy:     p,
		normalizer: normalizer,
		opts:       opts,
		limiter:    limiter,
		logger:     logger,
	}
}

// PolicyVersion is the weights version stamped into every breakdown.
func (s *Scorer) PolicyVersion() string {
	return s.policy.Version
}

// Heuristic computes the deterministic base score. Recency is measured against asOf,
// never the wall clock.
func (s *Scorer) Heuristic(ev model.Event, asOf time.Time) (float64, map[string]float64) {
	base, factors, _ := s.heuristic(ev, asOf)
	return base, factors
}

func (s *Scorer) heuristic(ev model.Event, asOf time.Time) (float64, map[string]float64, []string) {
	sp := s.policy.Scoring
	keywords, matched := s.keywordValue(ev)
	w := sp.Weights

	values := map[string]float64{
		FactorCategory: clamp(sp.CategoryWeight(ev.Category), 0, 1),
		FactorSources:  1 - math.Exp(-float64(ev.SourceCount())/sp.SourceSaturation),
		FactorRecency:  recencyValue(ev.PublishedAt, asOf, sp.RecencyHalfLifeHours),
		FactorKeywords: keywords,
		FactorTrust:    clamp(float64(ev.MaxTier())/float64(sp.MaxTier), 0, 1),
	}
	weights := map[string]float64{
		FactorCategory: w.Category,
		FactorSources:  w.Sources,
		FactorRecency:  w.Recency,
		FactorKeywords: w.Keywords,
		FactorTrust:    w.Trust,
	}

	factors := make(map[string]float64, len(values)+1)
	base := 0.0
	for _, name := range []string{FactorCategory, FactorSources, FactorRecency, FactorKeywords, FactorTrust} {
		contribution := weights[name] * values[name]
		base += contribution
		factors[name] = round(contribution, 4)
	}
	return clamp(base, 0, 100), factors, matched
}

// heuristicReason names the signals behind a heuristic score, in a fixed order.
func heuristicReason(ev model.Event, matched []string) string {
	category := ev.Category
	if category == "" {
		category = policy.DefaultCategory
	}
	parts := []string{"category " + category}
	if n := ev.SourceCount(); n == 1 {
		parts = append(parts, "1 source")
	} else {
		parts = append(parts, fmt.Sprintf("%d sources", n))
	}
	if len(matched) > 0 {
		parts = append(parts, "keywords: "+strings.Join(matched, ", "))
	}
	return strings.Join(parts, "; ")
}

func recencyValue(published, asOf time.Time, halfLifeHours float64) float64 {
	if published.IsZero() {
		return 0
	}
	age := asOf.Sub(published).Hours()
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age/halfLifeHours)
}

// keywordValue returns the capped keyword signal and the terms that matched, in policy order.
func (s *Scorer) keywordValue(ev model.Event) (float64, []string) {
	sp := s.policy.Scoring
	if len(sp.Keywords) == 0 {
		return 0, nil
	}
	lang := ""
	if len(ev.Members) > 0 {
		lang = ev.Members[0].Lang
	}
	text := s.normalizer.Text(ev.CanonicalTitle+" "+ev.CanonicalBody, lang)

	total := 0.0
	var matched []string
	seen := make(map[string]struct{}, len(sp.Keywords))
	for _, kw := range sp.Keywords {
		if _, dup := seen[kw.Term]; dup {
			continue
		}
		if policy.MatchTerm(text, kw.Term) {
			seen[kw.Term] = struct{}{}
			matched = append(matched, kw.Term)
			total += kw.Weight
		}
	}
	return clamp(total/sp.KeywordCap, 0, 1), matched
}

// Score scores a single event, consulting the oracle when one is configured.
func (s *Scorer) Score(ctx context.Context, ev model.Event, asOf time.Time) model.ScoredEvent {
	scored, outcome := s.score(ctx, ev, asOf)
	if outcome != "" {
		metrics.RecordOracle(outcome)
	}
	return scored
}

// ScoreAll scores events in input order. Oracle calls run concurrently up to the
// configured limit; each is independent and can only ever leave its own event unadjusted.
func (s *Scorer) ScoreAll(ctx context.Context, events []model.Event, asOf time.Time) ([]model.ScoredEvent, OracleStats) {
	out := make([]model.ScoredEvent, len(events))
	stats := OracleStats{Enabled: s.opts.Oracle != nil}

	if s.opts.Oracle == nil {
		for i, ev := range events {
			out[i], _ = s.score(ctx, ev, asOf)
		}
		return out, stats
	}

	outcomes := make([]string, len(events))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for i := range events {
		g.Go(func() error {
			out[i], outcomes[i] = s.score(ctx, events[i], asOf)
			metrics.RecordOracle(outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, outcome := range outcomes {
		stats.record(outcome, events[i].ID)
	}

	s.logger.Info().
		Int("events", len(events)).
		Int("oracle_applied", stats.Applied).
		Int("oracle_cached", stats.Cached).
		Int("oracle_failed", stats.Failed).
		Int("oracle_timed_out", stats.TimedOut).
		Int("oracle_skipped", stats.Skipped).
		Strs("oracle_failed_ids", stats.FailedIDs).
		Strs("oracle_timed_out_ids", stats.TimedOutIDs).
		Strs("oracle_skipped_ids", stats.SkippedIDs).
		Msg("scoring completed")

	return out, stats
}

func (s *Scorer) score(ctx context.Context, ev model.Event, asOf time.Time) (model.ScoredEvent, string) {
	base, factors, matched := s.heuristic(ev, asOf)

	verdict, outcome := s.adjust(ctx, ev)
	used := outcome == outcomeApplied || outcome == outcomeCached
	importance := base
	reason := heuristicReason(ev, matched)
	if used {
		factors[FactorOracle] = round(verdict.Delta, 4)
		importance = clamp(base+verdict.Delta, 0, 100)
		if verdict.Reason != "" {
			reason = verdict.Reason
		}
	}

	return model.ScoredEvent{
		Event:      ev,
		Importance: round(importance, 2),
		Breakdown: model.Breakdown{
			Version: s.policy.Version,
			Factors: factors,
			Reason:  reason,
		},
		OracleUsed: used,
	}, outcome
}

func (s *Scorer) adjust(ctx context.Context, ev model.Event) (Verdict, string) {
	oracle := s.opts.Oracle
	if oracle == nil {
		return Verdict{}, ""
	}
	maxDelta := s.policy.Scoring.OracleMaxDelta
	key := CacheKey(s.policy.Version, oracle.Name(), ev.ID)
	log := s.logger.With().Str("event_id", ev.ID).Str("oracle", oracle.Name()).Logger()

	if s.opts.Cache != nil {
		verdict, ok, err := s.opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Debug().Err(err).Msg("oracle cache read failed")
		case ok:
			verdict.Delta = clamp(verdict.Delta, -maxDelta, maxDelta)
			return verdict, outcomeCached
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("oracle call skipped")
			return Verdict{}, outcomeSkipped
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	verdict, err := consult(callCtx, oracle, textOf(ev))
	if err != nil {
		if errors.Is(err, ErrOracleTimeout) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Msg("oracle timed out; using heuristic score")
			return Verdict{}, outcomeTimeout
		}
		log.Warn().Err(err).Msg("oracle unavailable; using heuristic score")
		return Verdict{}, outcomeFailed
	}
	if math.IsNaN(verdict.Delta) || math.IsInf(verdict.Delta, 0) {
		log.Warn().Msg("oracle returned a non-finite delta; using heuristic score")
		return Verdict{}, outcomeFailed
	}

	verdict.Delta = clamp(verdict.Delta, -maxDelta, maxDelta)
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Set(ctx, key, verdict); err != nil {
			log.Debug().Err(err).Msg("oracle cache write failed")
		}
	}
	return verdict, outcomeApplied
}

func textOf(ev model.Event) EventText {
	return EventText{
		EventID:     ev.ID,
		Title:       ev.CanonicalTitle,
		Body:        ev.CanonicalBody,
		URL:         ev.CanonicalURL,
		Category:    ev.Category,
		Sources:     ev.Sources(),
		PublishedAt: ev.PublishedAt,
	}
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
