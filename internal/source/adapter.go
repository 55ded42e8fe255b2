// Package source turns per-day source snapshots into raw items.
package source

import (
	"context"
	"iter"
	"time"

	"horse.fit/dailybrief/internal/model"
)

// Adapter reads one source for a date window.
//
// Fetch fails with a *model.SourceError when the payload cannot be obtained or parsed as a
// whole. Per-item problems are yielded through the sequence as *model.MalformedItemError;
// ranging continues after them. The sequence is finite and can be ranged more than once.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, window model.DateRange) (iter.Seq2[model.RawItem, error], error)
}

// Payload is the raw bytes of one source snapshot.
type Payload struct {
	Data    []byte
	Path    string
	ModTime time.Time
}

// PayloadFetcher locates the payload a source produced for a partition day.
type PayloadFetcher interface {
	Open(ctx context.Context, sourceID, date string) (Payload, error)
}

// Collect drains a sequence, splitting accepted items from per-item errors.
func Collect(seq iter.Seq2[model.RawItem, error]) ([]model.RawItem, []error) {
	var (
		items []model.RawItem
		errs  []error
	)
	for item, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

// placeInWindow resolves an item's timestamp against the window. Items without a timestamp
// are pinned to the window start; items outside the window are dropped.
func placeInWindow(published time.Time, ok bool, window model.DateRange) (time.Time, bool) {
	if !ok || published.IsZero() {
		return window.Start, true
	}
	if !window.Contains(published) {
		return time.Time{}, false
	}
	return published, true
}
