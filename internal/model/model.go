package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the partition key format for daily output.
const DateLayout = "2006-01-02"

// RawItem is a single source's report of something, before dedup.
type RawItem struct {
	SourceID    string
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
	FetchedAt   time.Time
	// Tier is the trust tier of the producing source; higher is more trusted.
	Tier int
	// Lang is an ISO 639-1 hint, empty when unknown.
	Lang string
}

// Event is a cluster of raw items describing the same real-world occurrence.
type Event struct {
	ID             string
	Date           string
	Members        []RawItem
	CanonicalTitle string
	CanonicalURL   string
	CanonicalBody  string
	PublishedAt    time.Time
	Category       string
}

// Sources returns the sorted set of distinct source ids across members.
func (e Event) Sources() []string {
	seen := make(map[string]struct{}, len(e.Members))
	out := make([]string, 0, len(e.Members))
	for _, m := range e.Members {
		id := strings.TrimSpace(m.SourceID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e Event) SourceCount() int {
	return len(e.Sources())
}

func (e Event) MaxTier() int {
	best := 0
	for _, m := range e.Members {
		if m.Tier > best {
			best = m.Tier
		}
	}
	return best
}

// Breakdown records how an importance value was produced.
type Breakdown struct {
	Version string             `json:"version"`
	Factors map[string]float64 `json:"factors"`
	// Reason is the oracle's justification when its delta was used, else a summary of
	// the heuristic signals.
	Reason string `json:"reason,omitempty"`
}

type ScoredEvent struct {
	Event
	Importance float64
	Breakdown  Breakdown
	OracleUsed bool
}

// DailyRecord is one persisted row of a daily view.
type DailyRecord struct {
	Date        string    `json:"date"`
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	Importance  float64   `json:"importance"`
	SourceCount int       `json:"source_count"`
	Sources     []string  `json:"sources"`
	Level       string    `json:"level"`
	PublishedAt time.Time `json:"published_at"`
}

// DateRange is a half-open interval [Start, End) tied to the partition day it was derived from.
type DateRange struct {
	Day   string
	Start time.Time
	End   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Widen returns a copy whose start is moved back by lookback.
func (r DateRange) Widen(lookback time.Duration) DateRange {
	if lookback <= 0 {
		return r
	}
	r.Start = r.Start.Add(-lookback)
	return r
}

// DayRange returns the local-midnight bounds of day in loc.
func DayRange(day string, loc *time.Location) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateLayout, strings.TrimSpace(day), loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse date %q: %w", day, err)
	}
	return DateRange{
		Day:   start.Format(DateLayout),
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}, nil
}

// RunSummary is the outcome of one pipeline run as recorded in the run ledger.
type RunSummary struct {
	Status         string
	ItemsFetched   int
	ItemsRejected  int
	Events         int
	BriefCount     int
	FullCount      int
	MissingSources []string
	OracleUsed     int
	OracleSkipped  int
}
