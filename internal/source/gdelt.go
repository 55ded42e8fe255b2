package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"horse.fit/dailybrief/internal/model"
)

// GDELTSeenDateLayout is the seendate format of the GDELT DOC 2.1 ArtList response.
const GDELTSeenDateLayout = "20060102T150405Z"

// gdeltLanguages maps GDELT language names to ISO 639-1 codes.
var gdeltLanguages = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"english":    "en",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"portuguese": "pt",
	"russian":    "ru",
	"spanish":    "es",
	"turkish":    "tr",
}

type gdeltResponse struct {
	Articles []gdeltArticle `json:"articles"`
}

type gdeltArticle struct {
	URL              string `json:"url"`
	Title            string `json:"title"`
	SeenDate         string `json:"seendate"`
	Domain           string `json:"domain"`
	Language         string `json:"language"`
	SourceCountry    string `json:"sourcecountry"`
	SourceCommonName string `json:"sourceCommonName"`
	Snippet          string `json:"snippet"`
}

// GDELTAdapter reads GDELT ArtList snapshots. Each article is attributed to its publishing
// domain, so items from different outlets corroborate each other.
type GDELTAdapter struct {
	cfg     SourceConfig
	fetcher PayloadFetcher
}

func NewGDELTAdapter(cfg SourceConfig, fetcher PayloadFetcher) *GDELTAdapter {
	return &GDELTAdapter{cfg: cfg, fetcher: fetcher}
}

func (a *GDELTAdapter) ID() string {
	return a.cfg.ID
}

func (a *GDELTAdapter) Fetch(ctx context.Context, window model.DateRange) (iter.Seq2[model.RawItem, error], error) {
	payload, err := a.fetcher.Open(ctx, a.cfg.ID, window.Day)
	if err != nil {
		return nil, model.NewSourceError(a.cfg.ID, err)
	}
	var resp gdeltResponse
	if err := json.Unmarshal(payload.Data, &resp); err != nil {
		return nil, model.NewSourceError(a.cfg.ID, fmt.Errorf("decode gdelt payload %s: %w", payload.Path, err))
	}

	widened := window.Widen(a.cfg.Lookback())

	return func(yield func(model.RawItem, error) bool) {
		for i, art := range resp.Articles {
			ref := strings.TrimSpace(art.URL)
			if ref == "" {
				ref = "article#" + strconv.Itoa(i)
			}

			published, ok, err := parseSeenDate(art.SeenDate)
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

			domain := gdeltDomain(art)
			sourceID := a.cfg.ID
			if domain != "" {
				sourceID = "gdelt:" + domain
			}
			lang := gdeltLanguages[strings.ToLower(strings.TrimSpace(art.Language))]
			if lang == "" {
				lang = a.cfg.Lang
			}

			item := model.RawItem{
				SourceID:    sourceID,
				Title:       plainText(art.Title),
				Body:        plainText(art.Snippet),
				URL:         strings.TrimSpace(art.URL),
				PublishedAt: published.UTC(),
				FetchedAt:   payload.ModTime,
				Tier:        a.cfg.TierFor(domain),
				Lang:        lang,
			}
			if !yield(item, nil) {
				return
			}
		}
	}, nil
}

func parseSeenDate(raw string) (time.Time, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(GDELTSeenDateLayout, trimmed)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("seendate %q: %w", raw, err)
	}
	return ts, true, nil
}

func gdeltDomain(art gdeltArticle) string {
	domain := strings.ToLower(strings.TrimSpace(art.Domain))
	if domain == "" {
		if parsed, err := url.Parse(strings.TrimSpace(art.URL)); err == nil {
			domain = strings.ToLower(parsed.Hostname())
		}
	}
	return strings.TrimPrefix(domain, "www.")
}
