package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// DefaultCategory is assigned when no category rule matches.
const DefaultCategory = "other"

// Policy is the versioned configuration snapshot a run is a pure function of.
type Policy struct {
	Version    string         `yaml:"version"`
	Dedup      DedupPolicy    `yaml:"dedup"`
	Scoring    ScoringPolicy  `yaml:"scoring"`
	Build      BuildPolicy    `yaml:"build"`
	Categories []CategoryRule `yaml:"categories"`
}

type DedupPolicy struct {
	Threshold   float64 `yaml:"threshold"`
	TitleWeight float64 `yaml:"title_weight"`
	URLWeight   float64 `yaml:"url_weight"`
	WindowHours float64 `yaml:"window_hours"`
}

func (d DedupPolicy) Window() time.Duration {
	return time.Duration(d.WindowHours * float64(time.Hour))
}

type FactorWeights struct {
	Category float64 `yaml:"category"`
	Sources  float64 `yaml:"sources"`
	Recency  float64 `yaml:"recency"`
	Keywords float64 `yaml:"keywords"`
	Trust    float64 `yaml:"trust"`
}

func (w FactorWeights) Sum() float64 {
	return w.Category + w.Sources + w.Recency + w.Keywords + w.Trust
}

type KeywordRule struct {
	Term   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`
}

type ScoringPolicy struct {
	Weights               FactorWeights      `yaml:"weights"`
	CategoryWeights       map[string]float64 `yaml:"category_weights"`
	DefaultCategoryWeight float64            `yaml:"default_category_weight"`
	SourceSaturation      float64            `yaml:"source_saturation"`
	RecencyHalfLifeHours  float64            `yaml:"recency_half_life_hours"`
	MaxTier               int                `yaml:"max_tier"`
	KeywordCap            float64            `yaml:"keyword_cap"`
	OracleMaxDelta        float64            `yaml:"oracle_max_delta"`
	Keywords              []KeywordRule      `yaml:"keywords"`
}

// CategoryWeight returns the configured weight, falling back to the default.
func (s ScoringPolicy) CategoryWeight(category string) float64 {
	if w, ok := s.CategoryWeights[category]; ok {
		return w
	}
	return s.DefaultCategoryWeight
}

// Levels are the inclusive lower bounds for the S, A and B importance levels.
type Levels struct {
	S float64 `yaml:"s"`
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
}

func (l Levels) For(importance float64) string {
	switch {
	case importance >= l.S:
		return "S"
	case importance >= l.A:
		return "A"
	case importance >= l.B:
		return "B"
	default:
		return "C"
	}
}

type BuildPolicy struct {
	BriefSize      int     `yaml:"brief_size"`
	InclusionFloor float64 `yaml:"inclusion_floor"`
	Levels         Levels  `yaml:"levels"`
}

type CategoryRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Default returns the embedded policy.
func Default() (*Policy, error) {
	return Parse(defaultPolicyYAML)
}

// Load reads a policy file. An empty path yields the embedded default.
func Load(path string) (*Policy, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Default()
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", trimmed, err)
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", trimmed, err)
	}
	return p, nil
}

// Parse decodes and validates a policy document. Unknown keys are rejected.
func Parse(raw []byte) (*Policy, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var p Policy
	if err := decoder.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("policy document is empty")
		}
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) normalize() {
	p.Version = strings.TrimSpace(p.Version)
	for i := range p.Categories {
		p.Categories[i].Name = strings.ToLower(strings.TrimSpace(p.Categories[i].Name))
		for j, kw := range p.Categories[i].Keywords {
			p.Categories[i].Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	for i := range p.Scoring.Keywords {
		p.Scoring.Keywords[i].Term = strings.ToLower(strings.TrimSpace(p.Scoring.Keywords[i].Term))
	}
}

func (p *Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("policy version is required")
	}

	d := p.Dedup
	if d.Threshold <= 0 || d.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be in (0,1]")
	}
	if d.TitleWeight < 0 || d.URLWeight < 0 || d.TitleWeight+d.URLWeight <= 0 {
		return fmt.Errorf("dedup weights must be >= 0 and not both zero")
	}
	if d.WindowHours <= 0 {
		return fmt.Errorf("dedup.window_hours must be > 0")
	}

	s := p.Scoring
	for name, w := range map[string]float64{
		"category": s.Weights.Category,
		"sources":  s.Weights.Sources,
		"recency":  s.Weights.Recency,
		"keywords": s.Weights.Keywords,
		"trust":    s.Weights.Trust,
	} {
		if w < 0 {
			return fmt.Errorf("scoring.weights.%s must be >= 0", name)
		}
	}
	if s.Weights.Sum() > 100 {
		return fmt.Errorf("scoring.weights must sum to at most 100 (got %.2f)", s.Weights.Sum())
	}
	if s.SourceSaturation <= 0 {
		return fmt.Errorf("scoring.source_saturation must be > 0")
	}
	if s.RecencyHalfLifeHours <= 0 {
		return fmt.Errorf("scoring.recency_half_life_hours must be > 0")
	}
	if s.MaxTier < 1 {
		return fmt.Errorf("scoring.max_tier must be >= 1")
	}
	if s.KeywordCap <= 0 {
		return fmt.Errorf("scoring.keyword_cap must be > 0")
	}
	if s.OracleMaxDelta < 0 || s.OracleMaxDelta > 100 {
		return fmt.Errorf("scoring.oracle_max_delta must be in [0,100]")
	}
	for i, kw := range s.Keywords {
		if kw.Term == "" {
			return fmt.Errorf("scoring.keywords[%d].term must not be empty", i)
		}
	}

	b := p.Build
	if b.BriefSize < 1 {
		return fmt.Errorf("build.brief_size must be >= 1")
	}
	if b.InclusionFloor < 0 || b.InclusionFloor > 100 {
		return fmt.Errorf("build.inclusion_floor must be in [0,100]")
	}
	if !(b.Levels.S >= b.Levels.A && b.Levels.A >= b.Levels.B) {
		return fmt.Errorf("build.levels must satisfy s >= a >= b")
	}

	seen := make(map[string]struct{}, len(p.Categories))
	for i, c := range p.Categories {
		if c.Name == "" {
			return fmt.Errorf("categories[%d].name must not be empty", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("category %q is defined twice", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Categorize returns the first category whose keyword list matches normalized text.
func (p *Policy) Categorize(normalized string) string {
	for _, c := range p.Categories {
		for _, kw := range c.Keywords {
			if MatchTerm(normalized, kw) {
				return c.Name
			}
		}
	}
	return DefaultCategory
}

// inflections are the endings a space-delimited term may carry and still match,
// so "sanction" matches "sanctions" and "launch" matches "launches" but "ban" does
// not match "banner".
var inflections = []string{"", "s", "es", "d", "ed", "ing"}

// MatchTerm reports whether term occurs in normalized text. Terms written in a script that
// separates words with spaces must start on a word boundary and end on one, allowing a
// plural or verb inflection; other terms match as substrings.
func MatchTerm(normalized, term string) bool {
	if term == "" || normalized == "" {
		return false
	}
	if !isSpaceDelimited(term) {
		return strings.Contains(normalized, term)
	}

	padded := " " + normalized + " "
	needle := " " + term
	for offset := 0; offset < len(padded); {
		at := strings.Index(padded[offset:], needle)
		if at < 0 {
			return false
		}
		rest := padded[offset+at+len(needle):]
		for _, suffix := range inflections {
			if strings.HasPrefix(rest, suffix+" ") {
				return true
			}
		}
		offset += at + 1
	}
	return false
}

func isSpaceDelimited(term string) bool {
	for _, r := range term {
		if r > 0x2E7F {
			return false
		}
	}
	return true
}
