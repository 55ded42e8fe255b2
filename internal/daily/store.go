package daily

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"horse.fit/dailybrief/internal/model"
)

var ErrDayNotFound = errors.New("day not found")

type View string

const (
	ViewBrief View = "brief"
	ViewFull  View = "full"
)

func ParseView(raw string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ViewBrief:
		return ViewBrief, nil
	case ViewFull:
		return ViewFull, nil
	default:
		return "", fmt.Errorf("unknown view %q (want brief or full)", raw)
	}
}

// DayQuery selects rows of one persisted view. Zero values disable a filter.
type DayQuery struct {
	Date          string
	View          View
	Category      string
	MinImportance float64
	Limit         int
}

// Store persists a day's output atomically: readers observe either the previous
// partition or the complete new one.
type Store interface {
	Persist(ctx context.Context, out DayOutput) error
	ReadDay(ctx context.Context, q DayQuery) ([]model.DailyRecord, error)
	Ping(ctx context.Context) error
}

// Filter applies the query's category, importance and limit filters to ranked records.
func Filter(records []model.DailyRecord, q DayQuery) []model.DailyRecord {
	category := strings.ToLower(strings.TrimSpace(q.Category))
	out := make([]model.DailyRecord, 0, len(records))
	for _, r := range records {
		if category != "" && r.Category != category {
			continue
		}
		if r.Importance < q.MinImportance {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
