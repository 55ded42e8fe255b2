package dedup

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
)

const (
	eventIDLength = 20
	minTitleRunes = 3

	RejectEmptyTitle       = "empty_title"
	RejectPlaceholderTitle = "placeholder_title"
)

// placeholderMarkers flag capture stubs that carry no article text.
var placeholderMarkers = []string{
	"截图采集",
	"需要人工处理",
	"反爬保护",
	"截图已保存",
	"截图已存档",
}

type Config struct {
	Threshold   float64
	TitleWeight float64
	URLWeight   float64
	Window      time.Duration
}

// ConfigFromPolicy rescales the title and URL weights so they sum to 1.
func ConfigFromPolicy(p policy.DedupPolicy) Config {
	total := p.TitleWeight + p.URLWeight
	if total <= 0 {
		total = 1
	}
	return Config{
		Threshold:   p.Threshold,
		TitleWeight: p.TitleWeight / total,
		URLWeight:   p.URLWeight / total,
		Window:      p.Window(),
	}
}

// Engine groups raw items that describe the same event.
type Engine struct {
	cfg        Config
	policy     *policy.Policy
	normalizer *Normalizer
	logger     zerolog.Logger
}

func NewEngine(p *policy.Policy, normalizer *Normalizer, logger zerolog.Logger) *Engine {
	if normalizer == nil {
		normalizer = NewNormalizer(false)
	}
	return &Engine{
		cfg:        ConfigFromPolicy(p.Dedup),
		policy:     p,
		normalizer: normalizer,
		logger:     logger,
	}
}

// Rejection is an item excluded from clustering.
type Rejection struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Reason   string `json:"reason"`
}

type Result struct {
	Events   []model.Event
	Rejected []Rejection
	Compared int
	Merged   int
}

type candidate struct {
	item      model.RawItem
	published time.Time
	title     string
	body      string
	url       string
	tokens    map[string]struct{}
	parts     urlParts
}

// Cluster partitions items into events for the partition day. The partition, member order
// and event ids depend only on the set of items, never on their arrival order.
func (e *Engine) Cluster(items []model.RawItem, day string) Result {
	var result Result

	candidates := make([]candidate, 0, len(items))
	for _, item := range items {
		c, reason := e.prepare(item)
		if reason != "" {
			rej := Rejection{
				SourceID: item.SourceID,
				Title:    item.Title,
				URL:      item.URL,
				Reason:   reason,
			}
			e.logger.Warn().
				Str("source_id", rej.SourceID).
				Str("url", rej.URL).
				Str("reason", rej.Reason).
				Msg("item rejected before clustering")
			result.Rejected = append(result.Rejected, rej)
			continue
		}
		candidates = append(candidates, c)
	}

	slices.SortFunc(candidates, compareCandidates)
	slices.SortFunc(result.Rejected, func(a, b Rejection) int {
		return cmp.Or(
			strings.Compare(a.SourceID, b.SourceID),
			strings.Compare(a.URL, b.URL),
			strings.Compare(a.Title, b.Title),
		)
	})

	ds := newDisjointSet(len(candidates))
	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].published.Sub(candidates[i].published) > e.cfg.Window {
				break
			}
			result.Compared++
			if e.similarity(&candidates[i], &candidates[j]) >= e.cfg.Threshold {
				if ds.union(i, j) {
					result.Merged++
				}
			}
		}
	}

	seenIDs := make(map[string]struct{})
	for _, group := range ds.groups() {
		ev := e.buildEvent(candidates, group, day, seenIDs)
		result.Events = append(result.Events, ev)
	}

	e.logger.Debug().
		Int("items", len(items)).
		Int("rejected", len(result.Rejected)).
		Int("events", len(result.Events)).
		Int("compared_pairs", result.Compared).
		Msg("clustering completed")

	return result
}

// prepare folds an item for comparison. A non-empty reason means the item is rejected.
func (e *Engine) prepare(item model.RawItem) (candidate, string) {
	lang := e.normalizer.ResolveLanguage(item.Lang, item.Title+" "+item.Body)
	title := e.normalizer.Text(item.Title, lang)
	if title == "" {
		return candidate{}, RejectEmptyTitle
	}
	if isPlaceholderTitle(item.Title) {
		return candidate{}, RejectPlaceholderTitle
	}
	if item.Lang == "" {
		item.Lang = lang
	}
	canonical := CanonicalURL(item.URL)
	return candidate{
		item:      item,
		published: item.PublishedAt.UTC(),
		title:     title,
		body:      e.normalizer.Text(item.Body, lang),
		url:       canonical,
		tokens:    TokenSet(title),
		parts:     splitURL(canonical),
	}, ""
}

func isPlaceholderTitle(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) < minTitleRunes {
		return true
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

func (e *Engine) similarity(a, b *candidate) float64 {
	if a.url != "" && a.url == b.url {
		return 1
	}
	return e.cfg.TitleWeight*Jaccard(a.tokens, b.tokens) + e.cfg.URLWeight*partsSimilarity(a.parts, b.parts)
}

func compareCandidates(a, b candidate) int {
	return cmp.Or(
		a.published.Compare(b.published),
		strings.Compare(a.item.SourceID, b.item.SourceID),
		strings.Compare(a.url, b.url),
		strings.Compare(a.title, b.title),
		strings.Compare(a.item.Title, b.item.Title),
		strings.Compare(a.item.URL, b.item.URL),
		strings.Compare(a.item.Body, b.item.Body),
		cmp.Compare(a.item.Tier, b.item.Tier),
		strings.Compare(a.item.Lang, b.item.Lang),
		a.item.FetchedAt.Compare(b.item.FetchedAt),
	)
}

// canonicalLess orders members by preference: highest tier, earliest publication,
// smallest URL, then smallest source id.
func canonicalLess(a, b *candidate) bool {
	if a.item.Tier != b.item.Tier {
		return a.item.Tier > b.item.Tier
	}
	if !a.published.Equal(b.published) {
		return a.published.Before(b.published)
	}
	if au, bu := displayURL(a), displayURL(b); au != bu {
		return au < bu
	}
	if a.item.SourceID != b.item.SourceID {
		return a.item.SourceID < b.item.SourceID
	}
	return a.title < b.title
}

func displayURL(c *candidate) string {
	if c.url != "" {
		return c.url
	}
	return strings.TrimSpace(c.item.URL)
}

func (e *Engine) buildEvent(candidates []candidate, group []int, day string, seenIDs map[string]struct{}) model.Event {
	members := make([]model.RawItem, 0, len(group))
	best := &candidates[group[0]]
	earliest := best.published
	for _, idx := range group {
		c := &candidates[idx]
		members = append(members, c.item)
		if canonicalLess(c, best) {
			best = c
		}
		if c.published.Before(earliest) {
			earliest = c.published
		}
	}

	id := EventID(best.title, day)
	for attempt := 0; ; attempt++ {
		if _, taken := seenIDs[id]; !taken {
			break
		}
		salt := displayURL(best)
		if attempt > 0 {
			salt += "#" + strconv.Itoa(attempt)
		}
		id = EventID(best.title+"|"+salt, day)
	}
	seenIDs[id] = struct{}{}

	return model.Event{
		ID:             id,
		Date:           day,
		Members:        members,
		CanonicalTitle: strings.Join(strings.Fields(best.item.Title), " "),
		CanonicalURL:   displayURL(best),
		CanonicalBody:  strings.Join(strings.Fields(best.item.Body), " "),
		PublishedAt:    earliest,
		Category:       e.policy.Categorize(strings.TrimSpace(best.title + " " + best.body)),
	}
}

// EventID is the stable identity of an event: a truncated SHA-256 of the canonical
// normalized title and the partition day.
func EventID(normalizedTitle, day string) string {
	sum := sha256.Sum256([]byte(normalizedTitle + "|" + day))
	return hex.EncodeToString(sum[:])[:eventIDLength]
}
