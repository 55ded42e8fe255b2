package db

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/globaltime"
	"horse.fit/dailybrief/internal/model"
)

func TestBuildDayQueryFilters(t *testing.T) {
	t.Parallel()

	query, args, err := buildDayQuery(daily.DayQuery{
		Date:          "2026-03-02",
		View:          daily.ViewFull,
		Category:      " Policy ",
		MinImportance: 50,
		Limit:         5,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, fragment := range []string{
		"FROM brief.daily_records",
		"date = $1 AND view = $2",
		"category = $3",
		"importance >= $4",
		"ORDER BY rank ASC",
		"LIMIT 5",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query missing %q: %s", fragment, query)
		}
	}
	want := []any{"2026-03-02", "full", "policy", 50.0}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %v", len(want), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: expected %v, got %v", i, want[i], args[i])
		}
	}
}

func TestBuildDayQueryDefaults(t *testing.T) {
	t.Parallel()

	query, args, err := buildDayQuery(daily.DayQuery{Date: "2026-03-02"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(query, "LIMIT") || strings.Contains(query, "category") {
		t.Fatalf("unexpected filters in %s", query)
	}
	if len(args) != 2 || args[1] != "brief" {
		t.Fatalf("expected brief view by default, got %v", args)
	}
}

func TestRecordRowsRanksEachView(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)
	a := model.DailyRecord{Date: "2026-03-02", EventID: "a", Title: "A", Importance: 90, Sources: []string{"x", "y"}, PublishedAt: published}
	b := model.DailyRecord{Date: "2026-03-02", EventID: "b", Title: "B", Importance: 60}
	out := daily.DayOutput{
		Date:          "2026-03-02",
		PolicyVersion: "v1",
		Brief:         []model.DailyRecord{a},
		Full:          []model.DailyRecord{a, b},
		Breakdowns: map[string]model.Breakdown{
			"a": {Version: "v1", Factors: map[string]float64{"sources": 12.5}, Reason: "category policy; 2 sources"},
		},
	}

	rows, err := recordRows(out)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].View != "brief" || rows[0].Rank != 1 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[2].View != "full" || rows[2].Rank != 2 || rows[2].EventID != "b" {
		t.Fatalf("unexpected last row %+v", rows[2])
	}
	if string(rows[2].Sources) != "[]" {
		t.Fatalf("expected empty json array, got %s", rows[2].Sources)
	}
	if rows[2].PublishedAt != nil {
		t.Fatalf("zero time must be stored as null")
	}

	var breakdown model.Breakdown
	if err := json.Unmarshal(rows[0].Breakdown, &breakdown); err != nil {
		t.Fatalf("decode breakdown: %v", err)
	}
	if breakdown.Factors["sources"] != 12.5 || breakdown.Reason != "category policy; 2 sources" {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}
}

func TestPartitionRowUsesProcessClock(t *testing.T) {
	pinned := time.Date(2026, 3, 3, 1, 2, 3, 0, time.FixedZone("CST", 8*3600))
	globaltime.SetMockTime(pinned)
	defer globaltime.ResetTime()

	row := partitionRow(daily.DayOutput{
		Date:          "2026-03-02",
		PolicyVersion: "v1",
		Brief:         []model.DailyRecord{{EventID: "a"}},
		Full:          []model.DailyRecord{{EventID: "a"}, {EventID: "b"}},
	})
	if !row.UpdatedAt.Equal(pinned) || row.UpdatedAt.Location() != time.UTC {
		t.Fatalf("expected pinned UTC timestamp, got %v", row.UpdatedAt)
	}
	if row.Date != "2026-03-02" || row.PolicyVersion != "v1" || row.BriefCount != 1 || row.FullCount != 2 {
		t.Fatalf("unexpected partition row %+v", row)
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	if resolveGormLogLevel("debug", "production") != resolveGormLogLevel("trace", "") {
		t.Fatalf("debug and trace should map to the same gorm level")
	}
	if resolveGormLogLevel("bogus", "local") != resolveGormLogLevel("warn", "") {
		t.Fatalf("unknown levels should fall back to warn locally")
	}
}
