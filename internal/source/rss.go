package source

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"horse.fit/dailybrief/internal/language"
	"horse.fit/dailybrief/internal/model"
)

const ReasonBadTimestamp = "bad_timestamp"

// RSSAdapter reads RSS, Atom and JSON Feed snapshots.
type RSSAdapter struct {
	cfg     SourceConfig
	fetcher PayloadFetcher
}

func NewRSSAdapter(cfg SourceConfig, fetcher PayloadFetcher) *RSSAdapter {
	return &RSSAdapter{cfg: cfg, fetcher: fetcher}
}

func (a *RSSAdapter) ID() string {
	return a.cfg.ID
}

func (a *RSSAdapter) Fetch(ctx context.Context, window model.DateRange) (iter.Seq2[model.RawItem, error], error) {
	payload, err := a.fetcher.Open(ctx, a.cfg.ID, window.Day)
	if err != nil {
		return nil, model.NewSourceError(a.cfg.ID, err)
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(payload.Data))
	if err != nil {
		return nil, model.NewSourceError(a.cfg.ID, fmt.Errorf("parse feed %s: %w", payload.Path, err))
	}

	widened := window.Widen(a.cfg.Lookback())
	feedLang := language.NormalizeCode(feed.Language)

	return func(yield func(model.RawItem, error) bool) {
		for i, entry := range feed.Items {
			if entry == nil {
				continue
			}
			ref := entryRef(entry, i)

			published, ok, err := entryTime(entry)
			if err != nil {
				if !yield(model.RawItem{}, model.NewMalformedItemError(a.cfg.ID, ref, ReasonBadTimestamp, err)) {
					return
				}
				continue
			}
			published, ok = placeInWindow(published, ok, widened)
			if !ok {
				continue
			}

			body := articleText(entry.Content, entry.Link)
			if body == "" {
				body = plainText(entry.Description)
			}
			lang := a.cfg.Lang
			if lang == "" {
				lang = feedLang
			}

			item := model.RawItem{
				SourceID:    a.cfg.ID,
				Title:       plainText(entry.Title),
				Body:        body,
				URL:         strings.TrimSpace(entry.Link),
				PublishedAt: published.UTC(),
				FetchedAt:   payload.ModTime,
				Tier:        a.cfg.Tier,
				Lang:        lang,
			}
			if !yield(item, nil) {
				return
			}
		}
	}, nil
}

// entryTime prefers the published timestamp and falls back to updated. A timestamp string
// gofeed could not parse is an error; an absent one is not.
func entryTime(entry *gofeed.Item) (time.Time, bool, error) {
	switch {
	case entry.PublishedParsed != nil:
		return *entry.PublishedParsed, true, nil
	case entry.UpdatedParsed != nil:
		return *entry.UpdatedParsed, true, nil
	case strings.TrimSpace(entry.Published) != "":
		return time.Time{}, false, fmt.Errorf("unparseable published %q", entry.Published)
	case strings.TrimSpace(entry.Updated) != "":
		return time.Time{}, false, fmt.Errorf("unparseable updated %q", entry.Updated)
	default:
		return time.Time{}, false, nil
	}
}

func entryRef(entry *gofeed.Item, index int) string {
	if guid := strings.TrimSpace(entry.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	return "item#" + strconv.Itoa(index)
}
