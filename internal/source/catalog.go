package source

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"horse.fit/dailybrief/internal/language"
)

//go:embed default_sources.yaml
var defaultSourcesYAML []byte

type Kind string

const (
	KindRSS      Kind = "rss"
	KindGDELT    Kind = "gdelt"
	KindNewsItem Kind = "newsitem"
)

const (
	MinTier = 1
	MaxTier = 5
)

var sourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// SourceConfig is one catalog entry.
type SourceConfig struct {
	ID            string         `yaml:"id"`
	Kind          Kind           `yaml:"kind"`
	Name          string         `yaml:"name"`
	URL           string         `yaml:"url"`
	Query         string         `yaml:"query"`
	Tier          int            `yaml:"tier"`
	Lang          string         `yaml:"lang"`
	Enabled       *bool          `yaml:"enabled"`
	LookbackHours int            `yaml:"lookback_hours"`
	DomainTiers   map[string]int `yaml:"domain_tiers"`
}

func (c SourceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c SourceConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// TierFor returns the domain override when one exists, else the source tier.
func (c SourceConfig) TierFor(domain string) int {
	if tier, ok := c.DomainTiers[normalizeDomain(domain)]; ok {
		return tier
	}
	return c.Tier
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}

type Catalog struct {
	Version string         `yaml:"version"`
	Sources []SourceConfig `yaml:"sources"`
}

// Enabled returns enabled entries in catalog order.
func (c *Catalog) Enabled() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultSourcesYAML)
}

// LoadCatalog reads a catalog file. An empty path yields the embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read sources file %s: %w", trimmed, err)
	}
	c, err := ParseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("sources file %s: %w", trimmed, err)
	}
	return c, nil
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var c Catalog
	if err := decoder.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sources document is empty")
		}
		return nil, fmt.Errorf("decode sources: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Kind = Kind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
		s.Lang = language.NormalizeCode(s.Lang)

		if !sourceIDPattern.MatchString(s.ID) {
			return nil, fmt.Errorf("sources[%d]: invalid id %q", i, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = struct{}{}

		switch s.Kind {
		case KindRSS, KindGDELT, KindNewsItem:
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind)
		}
		if s.Tier < MinTier || s.Tier > MaxTier {
			return nil, fmt.Errorf("source %s: tier must be in [%d,%d]", s.ID, MinTier, MaxTier)
		}
		if s.LookbackHours < 0 {
			return nil, fmt.Errorf("source %s: lookback_hours must be >= 0", s.ID)
		}

		if len(s.DomainTiers) > 0 {
			normalized := make(map[string]int, len(s.DomainTiers))
			for domain, tier := range s.DomainTiers {
				if tier < MinTier || tier > MaxTier {
					return nil, fmt.Errorf("source %s: domain tier for %s must be in [%d,%d]", s.ID, domain, MinTier, MaxTier)
				}
				normalized[normalizeDomain(domain)] = tier
			}
			s.DomainTiers = normalized
		}
	}
	return &c, nil
}

// NewFromConfig builds the adapter for one catalog entry.
func NewFromConfig(cfg SourceConfig, fetcher PayloadFetcher) (Adapter, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("source %s: payload fetcher is nil", cfg.ID)
	}
	switch cfg.Kind {
	case KindRSS:
		return NewRSSAdapter(cfg, fetcher), nil
	case KindGDELT:
		return NewGDELTAdapter(cfg, fetcher), nil
	case KindNewsItem:
		return NewNewsItemAdapter(cfg, fetcher), nil
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

// Adapters builds adapters for every enabled entry, in catalog order.
func (c *Catalog) Adapters(fetcher PayloadFetcher) ([]Adapter, error) {
	enabled := c.Enabled()
	out := make([]Adapter, 0, len(enabled))
	for _, cfg := range enabled {
		adapter, err := NewFromConfig(cfg, fetcher)
		if err != nil {
			return nil, err
		}
		out = append(out, adapter)
	}
	return out, nil
}
