package daily

import (
	"fmt"
	"testing"
	"time"

	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
)

var published = time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)

func scoredEvent(id string, importance float64, sources int) model.ScoredEvent {
	members := make([]model.RawItem, 0, sources)
	for i := 0; i < sources; i++ {
		members = append(members, model.RawItem{SourceID: fmt.Sprintf("src-%02d", i), Tier: 2})
	}
	return model.ScoredEvent{
		Event: model.Event{
			ID:             id,
			Members:        members,
			CanonicalTitle: "Event " + id,
			CanonicalURL:   "https://example.com/" + id,
			PublishedAt:    published,
			Category:       "policy",
		},
		Importance: importance,
		Breakdown:  model.Breakdown{Version: "test", Factors: map[string]float64{"category": importance}},
	}
}

func testBuilder(t *testing.T, briefSize int, floor float64) *Builder {
	t.Helper()
	p, err := policy.Default()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	p.Build.BriefSize = briefSize
	p.Build.InclusionFloor = floor
	return NewBuilder(p)
}

func TestBuildRanksByImportanceThenSources(t *testing.T) {
	t.Parallel()

	scored := []model.ScoredEvent{
		scoredEvent("a", 90, 2),
		scoredEvent("b", 90, 5),
		scoredEvent("c", 70, 9),
	}
	out := testBuilder(t, 20, 10).Build(scored, "2026-03-02")

	want := []string{"b", "a", "c"}
	if len(out.Full) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(out.Full))
	}
	for i, id := range want {
		if out.Full[i].EventID != id {
			t.Fatalf("rank %d: expected %s, got %s", i, id, out.Full[i].EventID)
		}
	}
}

func TestBuildTieBreaksOnEventID(t *testing.T) {
	t.Parallel()

	scored := []model.ScoredEvent{scoredEvent("zz", 50, 3), scoredEvent("aa", 50, 3)}
	out := testBuilder(t, 20, 10).Build(scored, "2026-03-02")
	if out.Full[0].EventID != "aa" || out.Full[1].EventID != "zz" {
		t.Fatalf("expected event id order, got %s, %s", out.Full[0].EventID, out.Full[1].EventID)
	}
}

func TestBuildInclusionFloorIsInclusive(t *testing.T) {
	t.Parallel()

	scored := []model.ScoredEvent{
		scoredEvent("at", 40, 1),
		scoredEvent("below", 39.99, 1),
		scoredEvent("above", 40.01, 1),
	}
	out := testBuilder(t, 20, 40).Build(scored, "2026-03-02")

	if len(out.Full) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out.Full))
	}
	if out.Full[0].EventID != "above" || out.Full[1].EventID != "at" {
		t.Fatalf("unexpected rows %+v", out.Full)
	}
	if _, ok := out.Breakdowns["below"]; ok {
		t.Fatalf("excluded event must not carry a breakdown")
	}
}

func TestBriefIsPrefixOfFull(t *testing.T) {
	t.Parallel()

	scored := make([]model.ScoredEvent, 0, 8)
	for i := 0; i < 8; i++ {
		scored = append(scored, scoredEvent(fmt.Sprintf("e%d", i), float64(20+i*10), 1))
	}
	out := testBuilder(t, 3, 10).Build(scored, "2026-03-02")

	if len(out.Brief) != 3 || len(out.Full) != 8 {
		t.Fatalf("expected 3/8 rows, got %d/%d", len(out.Brief), len(out.Full))
	}
	for i := range out.Brief {
		if out.Brief[i].EventID != out.Full[i].EventID {
			t.Fatalf("brief row %d differs from full", i)
		}
	}

	small := testBuilder(t, 20, 10).Build(scored[:2], "2026-03-02")
	if len(small.Brief) != 2 {
		t.Fatalf("brief must shrink to full size, got %d", len(small.Brief))
	}
}

func TestBuildRecordFields(t *testing.T) {
	t.Parallel()

	ev := scoredEvent("x", 85, 2)
	ev.Members = append(ev.Members, model.RawItem{SourceID: "src-00"})
	out := testBuilder(t, 20, 10).Build([]model.ScoredEvent{ev}, "2026-03-02")
	r := out.Full[0]

	if r.Date != "2026-03-02" || r.Level != "S" || r.SourceCount != 2 {
		t.Fatalf("unexpected record %+v", r)
	}
	if len(r.Sources) != 2 || r.Sources[0] != "src-00" || r.Sources[1] != "src-01" {
		t.Fatalf("unexpected sources %v", r.Sources)
	}
	if !r.PublishedAt.Equal(published) || r.PublishedAt.Location() != time.UTC {
		t.Fatalf("unexpected published_at %v", r.PublishedAt)
	}
	if out.PolicyVersion == "" {
		t.Fatalf("expected policy version on output")
	}
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	out := testBuilder(t, 20, 10).Build(nil, "2026-03-02")
	if out.Brief == nil || out.Full == nil || len(out.Full) != 0 {
		t.Fatalf("expected empty non-nil views, got %+v", out)
	}
}
