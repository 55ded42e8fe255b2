package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
)

var asOf = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Default()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	return p
}

func testEvent(id string, sources ...string) model.Event {
	members := make([]model.RawItem, 0, len(sources))
	for _, s := range sources {
		members = append(members, model.RawItem{
			SourceID:    s,
			Title:       "Regulator issues new AI regulation draft",
			PublishedAt: asOf.Add(-6 * time.Hour),
			Tier:        3,
		})
	}
	return model.Event{
		ID:             id,
		Members:        members,
		CanonicalTitle: "Regulator issues new AI regulation draft",
		PublishedAt:    asOf.Add(-6 * time.Hour),
		Category:       "policy",
	}
}

func TestHeuristicDeterministic(t *testing.T) {
	t.Parallel()

	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{})
	ev := testEvent("e1", "a", "b")

	first := s.Score(context.Background(), ev, asOf)
	second := s.Score(context.Background(), ev, asOf)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical scores, got %+v vs %+v", first, second)
	}
	if first.OracleUsed {
		t.Fatalf("oracle must be unused without an oracle")
	}
	if _, ok := first.Breakdown.Factors[FactorOracle]; ok {
		t.Fatalf("breakdown must not carry an oracle factor")
	}
	if first.Breakdown.Version != testPolicy(t).Version {
		t.Fatalf("breakdown version mismatch: %q", first.Breakdown.Version)
	}
	if first.Importance <= 0 || first.Importance > 100 {
		t.Fatalf("importance out of range: %v", first.Importance)
	}
}

func TestScoreMonotonicInSourceCount(t *testing.T) {
	t.Parallel()

	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{})
	one := s.Score(context.Background(), testEvent("e1", "a"), asOf)
	three := s.Score(context.Background(), testEvent("e1", "a", "b", "c"), asOf)
	if three.Importance < one.Importance {
		t.Fatalf("expected 3 sources (%v) >= 1 source (%v)", three.Importance, one.Importance)
	}
	if three.Breakdown.Factors[FactorSources] <= one.Breakdown.Factors[FactorSources] {
		t.Fatalf("expected sources factor to grow")
	}

	dup := s.Score(context.Background(), testEvent("e1", "a", "a", "a"), asOf)
	if dup.Importance != one.Importance {
		t.Fatalf("repeated reports from one source must not count as corroboration")
	}
}

func TestRecencyDecays(t *testing.T) {
	t.Parallel()

	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{})
	fresh := testEvent("e1", "a")
	stale := testEvent("e1", "a")
	stale.PublishedAt = asOf.Add(-20 * time.Hour)

	if s.Score(context.Background(), stale, asOf).Importance >= s.Score(context.Background(), fresh, asOf).Importance {
		t.Fatalf("expected older event to score lower")
	}

	future := testEvent("e1", "a")
	future.PublishedAt = asOf.Add(time.Hour)
	_, factors := s.Heuristic(future, asOf)
	if factors[FactorRecency] != testPolicy(t).Scoring.Weights.Recency {
		t.Fatalf("future timestamps should get full recency, got %v", factors[FactorRecency])
	}
}

func TestKeywordFactor(t *testing.T) {
	t.Parallel()

	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{})
	plain := testEvent("e1", "a")
	plain.CanonicalTitle = "Company hosts quarterly meeting"
	hot := testEvent("e1", "a")
	hot.CanonicalTitle = "New export control and sanction package targets chips"

	_, plainFactors := s.Heuristic(plain, asOf)
	_, hotFactors := s.Heuristic(hot, asOf)
	if plainFactors[FactorKeywords] != 0 {
		t.Fatalf("expected no keyword hits, got %v", plainFactors[FactorKeywords])
	}
	if hotFactors[FactorKeywords] <= 0 {
		t.Fatalf("expected keyword hits")
	}

	plural := testEvent("e1", "a")
	plural.CanonicalTitle = "New export controls and sanctions package targets chips"
	_, pluralFactors := s.Heuristic(plural, asOf)
	if pluralFactors[FactorKeywords] != hotFactors[FactorKeywords] {
		t.Fatalf("plural keywords should weigh the same, got %v want %v", pluralFactors[FactorKeywords], hotFactors[FactorKeywords])
	}

	scored := s.Score(context.Background(), hot, asOf)
	if want := "category policy; 1 source; keywords: export control, sanction"; scored.Breakdown.Reason != want {
		t.Fatalf("expected heuristic reason %q, got %q", want, scored.Breakdown.Reason)
	}
}

type explainingOracle struct {
	verdict Verdict
}

func (o explainingOracle) Adjust(context.Context, EventText) (float64, error) {
	return o.verdict.Delta, nil
}

func (o explainingOracle) Explain(context.Context, EventText) (Verdict, error) {
	return o.verdict, nil
}

func (o explainingOracle) Name() string { return "explaining" }

func TestOracleReasonIsKept(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), "redis://"+mr.Addr()+"/0", time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cache.Close()

	p := testPolicy(t)
	oracle := explainingOracle{verdict: Verdict{Delta: 4, Reason: "first binding rule of its kind"}}
	ev := testEvent("e1", "a", "b")

	first := NewScorer(p, zerolog.Nop(), Options{Oracle: oracle, Cache: cache}).Score(context.Background(), ev, asOf)
	if first.Breakdown.Reason != "first binding rule of its kind" || first.Breakdown.Factors[FactorOracle] != 4 {
		t.Fatalf("expected oracle reason and delta, got %+v", first.Breakdown)
	}

	silent := OracleFunc{Label: "explaining", Fn: func(context.Context, EventText) (float64, error) {
		t.Errorf("cached verdict must not call the oracle")
		return 0, nil
	}}
	replayed := NewScorer(p, zerolog.Nop(), Options{Oracle: silent, Cache: cache}).Score(context.Background(), ev, asOf)
	if !reflect.DeepEqual(first, replayed) {
		t.Fatalf("cached rerun must replay the reason\nfirst    %+v\nreplayed %+v", first.Breakdown, replayed.Breakdown)
	}
}

func TestOracleFailureIsTransparent(t *testing.T) {
	t.Parallel()

	p := testPolicy(t)
	events := []model.Event{testEvent("e1", "a"), testEvent("e2", "a", "b"), testEvent("e3", "c")}

	plain, stats := NewScorer(p, zerolog.Nop(), Options{}).ScoreAll(context.Background(), events, asOf)
	if stats.Enabled {
		t.Fatalf("expected oracle disabled stats")
	}

	failing := OracleFunc{Label: "broken", Fn: func(context.Context, EventText) (float64, error) {
		return 0, fmt.Errorf("%w: quota exceeded", ErrOracleUnavailable)
	}}
	failed, failedStats := NewScorer(p, zerolog.Nop(), Options{Oracle: failing, Concurrency: 2}).ScoreAll(context.Background(), events, asOf)

	if !reflect.DeepEqual(plain, failed) {
		t.Fatalf("failed oracle must match heuristic-only scores\nplain  %+v\nfailed %+v", plain, failed)
	}
	if failedStats.Failed != len(events) || failedStats.Used() != 0 {
		t.Fatalf("unexpected stats %+v", failedStats)
	}
}

func TestOracleDeltaIsClamped(t *testing.T) {
	t.Parallel()

	p := testPolicy(t)
	ev := testEvent("e1", "a")
	base, _ := NewScorer(p, zerolog.Nop(), Options{}).Heuristic(ev, asOf)

	up := OracleFunc{Fn: func(context.Context, EventText) (float64, error) { return 75, nil }}
	scored := NewScorer(p, zerolog.Nop(), Options{Oracle: up}).Score(context.Background(), ev, asOf)
	if !scored.OracleUsed {
		t.Fatalf("expected oracle to be used")
	}
	if got := scored.Breakdown.Factors[FactorOracle]; got != p.Scoring.OracleMaxDelta {
		t.Fatalf("expected delta clamped to %v, got %v", p.Scoring.OracleMaxDelta, got)
	}
	want := round(clamp(base+p.Scoring.OracleMaxDelta, 0, 100), 2)
	if scored.Importance != want {
		t.Fatalf("expected importance %v, got %v", want, scored.Importance)
	}

	down := OracleFunc{Fn: func(context.Context, EventText) (float64, error) { return -500, nil }}
	low := NewScorer(p, zerolog.Nop(), Options{Oracle: down}).Score(context.Background(), ev, asOf)
	if low.Importance < 0 {
		t.Fatalf("importance must stay >= 0, got %v", low.Importance)
	}
}

func TestOracleTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	blocking := OracleFunc{Fn: func(ctx context.Context, _ EventText) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{Oracle: blocking, CallTimeout: 10 * time.Millisecond})

	scored, stats := s.ScoreAll(context.Background(), []model.Event{testEvent("e1", "a")}, asOf)
	if scored[0].OracleUsed {
		t.Fatalf("timed out oracle must not be used")
	}
	if stats.TimedOut != 1 {
		t.Fatalf("expected one timeout, got %+v", stats)
	}
}

func TestScoreAllKeepsOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	oracle := OracleFunc{Fn: func(_ context.Context, text EventText) (float64, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if text.EventID == "e3" {
			return 0, errors.New("boom")
		}
		return 1, nil
	}}

	events := make([]model.Event, 12)
	for i := range events {
		events[i] = testEvent(fmt.Sprintf("e%d", i), "a")
	}

	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{Oracle: oracle, Concurrency: 3})
	scored, stats := s.ScoreAll(context.Background(), events, asOf)

	for i := range events {
		if scored[i].ID != events[i].ID {
			t.Fatalf("position %d: expected %s, got %s", i, events[i].ID, scored[i].ID)
		}
		if wantUsed := events[i].ID != "e3"; scored[i].OracleUsed != wantUsed {
			t.Fatalf("event %s: oracle used = %t", events[i].ID, scored[i].OracleUsed)
		}
	}
	if stats.Applied != 11 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if peak.Load() > 3 {
		t.Fatalf("concurrency limit exceeded: %d", peak.Load())
	}
}

func TestScoreAllListsUnusedOracleEvents(t *testing.T) {
	t.Parallel()

	oracle := OracleFunc{Fn: func(ctx context.Context, text EventText) (float64, error) {
		switch text.EventID {
		case "e3", "e6":
			return 0, ErrOracleUnavailable
		case "e5":
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 2, nil
	}}
	events := make([]model.Event, 8)
	for i := range events {
		events[i] = testEvent(fmt.Sprintf("e%d", i), "a")
	}

	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{Oracle: oracle, Concurrency: 4, CallTimeout: 20 * time.Millisecond})
	_, stats := s.ScoreAll(context.Background(), events, asOf)

	if !reflect.DeepEqual(stats.FailedIDs, []string{"e3", "e6"}) {
		t.Fatalf("unexpected failed ids %v", stats.FailedIDs)
	}
	if !reflect.DeepEqual(stats.TimedOutIDs, []string{"e5"}) {
		t.Fatalf("unexpected timed out ids %v", stats.TimedOutIDs)
	}
	if len(stats.SkippedIDs) != 0 || stats.Applied != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	encoded, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	if !strings.Contains(string(encoded), `"failed_ids":["e3","e6"]`) || !strings.Contains(string(encoded), `"timed_out_ids":["e5"]`) {
		t.Fatalf("stats json missing id lists: %s", encoded)
	}
}

func TestScoreAllListsRateLimitedEvents(t *testing.T) {
	t.Parallel()

	oracle := OracleFunc{Fn: func(context.Context, EventText) (float64, error) { return 1, nil }}
	events := []model.Event{testEvent("e1", "a"), testEvent("e2", "a"), testEvent("e3", "a")}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewScorer(testPolicy(t), zerolog.Nop(), Options{Oracle: oracle, Concurrency: 1, RatePerSecond: 0.001})
	_, stats := s.ScoreAll(ctx, events, asOf)

	if stats.Applied != 1 || !reflect.DeepEqual(stats.SkippedIDs, []string{"e2", "e3"}) {
		t.Fatalf("expected e2 and e3 skipped by the limiter, got %+v", stats)
	}
}

func TestOracleCacheReplaysDeltas(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), "redis://"+mr.Addr()+"/0", time.Hour)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer cache.Close()
	p := testPolicy(t)
	ev := testEvent("e1", "a")

	var calls atomic.Int32
	oracle := OracleFunc{Label: "test", Fn: func(context.Context, EventText) (float64, error) {
		calls.Add(1)
		return 7.5, nil
	}}

	first := NewScorer(p, zerolog.Nop(), Options{Oracle: oracle, Cache: cache}).Score(context.Background(), ev, asOf)
	second := NewScorer(p, zerolog.Nop(), Options{Oracle: oracle, Cache: cache}).Score(context.Background(), ev, asOf)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached rerun must reproduce the score")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one oracle call, got %d", calls.Load())
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != CacheKey(p.Version, "test", "e1") {
		t.Fatalf("expected one cache entry, got %v", keys)
	}
}
