package daily

import (
	"sort"
	"strings"

	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
)

// DayOutput is everything persisted for one partition day.
type DayOutput struct {
	Date          string
	PolicyVersion string
	Brief         []model.DailyRecord
	Full          []model.DailyRecord
	// Breakdowns is keyed by event id and covers every record in Full.
	Breakdowns map[string]model.Breakdown
}

type Builder struct {
	briefSize int
	floor     float64
	levels    policy.Levels
	version   string
}

func NewBuilder(p *policy.Policy) *Builder {
	return &Builder{
		briefSize: p.Build.BriefSize,
		floor:     p.Build.InclusionFloor,
		levels:    p.Build.Levels,
		version:   p.Version,
	}
}

// Build ranks scored events and slices them into the full and brief views. Full keeps
// every event at or above the inclusion floor; Brief is the head of Full.
func (b *Builder) Build(scored []model.ScoredEvent, date string) DayOutput {
	ranked := make([]model.ScoredEvent, 0, len(scored))
	for _, ev := range scored {
		if ev.Importance >= b.floor {
			ranked = append(ranked, ev)
		}
	}
	SortRanked(ranked)

	out := DayOutput{
		Date:          date,
		PolicyVersion: b.version,
		Full:          make([]model.DailyRecord, 0, len(ranked)),
		Breakdowns:    make(map[string]model.Breakdown, len(ranked)),
	}
	for _, ev := range ranked {
		out.Full = append(out.Full, b.record(ev, date))
		out.Breakdowns[ev.ID] = ev.Breakdown
	}

	n := min(b.briefSize, len(out.Full))
	out.Brief = make([]model.DailyRecord, n)
	copy(out.Brief, out.Full[:n])
	return out
}

// SortRanked orders events by importance desc, distinct source count desc, event id asc.
func SortRanked(events []model.ScoredEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if ac, bc := a.SourceCount(), b.SourceCount(); ac != bc {
			return ac > bc
		}
		return a.ID < b.ID
	})
}

func (b *Builder) record(ev model.ScoredEvent, date string) model.DailyRecord {
	return model.DailyRecord{
		Date:        date,
		EventID:     ev.ID,
		Title:       strings.TrimSpace(ev.CanonicalTitle),
		URL:         strings.TrimSpace(ev.CanonicalURL),
		Category:    ev.Category,
		Importance:  ev.Importance,
		SourceCount: ev.SourceCount(),
		Sources:     ev.Sources(),
		Level:       b.levels.For(ev.Importance),
		PublishedAt: ev.PublishedAt.UTC(),
	}
}
