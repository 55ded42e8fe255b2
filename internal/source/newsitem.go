package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"iter"
	"strings"

	"horse.fit/dailybrief/internal/language"
	"horse.fit/dailybrief/internal/model"
	payloadschema "horse.fit/dailybrief/schema"
)

const (
	ReasonInvalidPayload = "invalid_payload"

	maxNewsItemLineBytes = 4 << 20
)

// NewsItemAdapter reads JSON lines of v1 news item payloads.
type NewsItemAdapter struct {
	cfg     SourceConfig
	fetcher PayloadFetcher
}

func NewNewsItemAdapter(cfg SourceConfig, fetcher PayloadFetcher) *NewsItemAdapter {
	return &NewsItemAdapter{cfg: cfg, fetcher: fetcher}
}

func (a *NewsItemAdapter) ID() string {
	return a.cfg.ID
}

func (a *NewsItemAdapter) Fetch(ctx context.Context, window model.DateRange) (iter.Seq2[model.RawItem, error], error) {
	payload, err := a.fetcher.Open(ctx, a.cfg.ID, window.Day)
	if err != nil {
		return nil, model.NewSourceError(a.cfg.ID, err)
	}
	widened := window.Widen(a.cfg.Lookback())

	return func(yield func(model.RawItem, error) bool) {
		scanner := bufio.NewScanner(bytes.NewReader(payload.Data))
		scanner.Buffer(make([]byte, 0, 64*1024), maxNewsItemLineBytes)

		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			ref := fmt.Sprintf("line %d", lineNo)

			parsed, err := payloadschema.ParseNewsItem(line)
			if err != nil {
				if !yield(model.RawItem{}, model.NewMalformedItemError(a.cfg.ID, ref, ReasonInvalidPayload, err)) {
					return
				}
				continue
			}

			published, ok := parsed.Published()
			published, ok = placeInWindow(published, ok, widened)
			if !ok {
				continue
			}

			lang := a.cfg.Lang
			if code := language.NormalizeCode(parsed.LangCode()); code != "" {
				lang = code
			}

			item := model.RawItem{
				SourceID:    a.cfg.ID,
				Title:       strings.TrimSpace(parsed.Title),
				Body:        plainText(parsed.Body()),
				URL:         parsed.URL(),
				PublishedAt: published.UTC(),
				FetchedAt:   payload.ModTime,
				Tier:        a.cfg.Tier,
				Lang:        lang,
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.RawItem{}, model.NewMalformedItemError(a.cfg.ID, fmt.Sprintf("line %d", lineNo+1), ReasonInvalidPayload, err))
		}
	}, nil
}
