package dedup

import (
	"fmt"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"horse.fit/dailybrief/internal/langdetect"
	"horse.fit/dailybrief/internal/language"
)

// Normalizer folds titles and bodies into a comparable form. A normalizer built with
// NewCachedNormalizer memoizes folded text and detected languages, so syndicated copies
// and the scorer's second pass over canonical text skip the work. It is safe for
// concurrent use.
type Normalizer struct {
	detectLanguage bool
	folded         *lru.Cache[string, string]
	detected       *lru.Cache[string, string]
}

// NewNormalizer builds a normalizer without a memo. When detectLanguage is set, items
// without a language hint have their language detected so case folding can follow
// locale rules.
func NewNormalizer(detectLanguage bool) *Normalizer {
	return &Normalizer{detectLanguage: detectLanguage}
}

// NewCachedNormalizer is NewNormalizer with LRU memos of memoSize entries each.
// A memoSize of 0 disables them.
func NewCachedNormalizer(detectLanguage bool, memoSize int) (*Normalizer, error) {
	n := NewNormalizer(detectLanguage)
	if memoSize <= 0 {
		return n, nil
	}
	folded, err := lru.New[string, string](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create text memo: %w", err)
	}
	detected, err := lru.New[string, string](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create language memo: %w", err)
	}
	n.folded = folded
	n.detected = detected
	return n, nil
}

// Memoized reports how many folded texts and detected languages are held.
func (n *Normalizer) Memoized() (texts, languages int) {
	if n == nil || n.folded == nil {
		return 0, 0
	}
	return n.folded.Len(), n.detected.Len()
}

// ResolveLanguage returns the ISO 639-1 code used for case mapping.
func (n *Normalizer) ResolveLanguage(hint, sample string) string {
	if code := language.NormalizeCode(hint); code != "" {
		return code
	}
	if n == nil || !n.detectLanguage {
		return ""
	}
	if n.detected != nil {
		if code, ok := n.detected.Get(sample); ok {
			return code
		}
	}
	code := langdetect.DetectISO6391(sample)
	if n.detected != nil {
		n.detected.Add(sample, code)
	}
	return code
}

// Text applies NFKC, locale-aware lower casing, replaces punctuation and symbols with
// spaces and collapses whitespace.
func (n *Normalizer) Text(input, lang string) string {
	if n == nil || n.folded == nil {
		return foldText(input, lang)
	}
	key := lang + "\x00" + input
	if out, ok := n.folded.Get(key); ok {
		return out
	}
	out := foldText(input, lang)
	n.folded.Add(key, out)
	return out
}

func foldText(input, lang string) string {
	composed := norm.NFKC.String(input)
	if strings.TrimSpace(composed) == "" {
		return ""
	}
	lowered := cases.Lower(language.CaseTag(lang)).String(composed)

	var b strings.Builder
	b.Grow(len(lowered))
	lastSpace := true
	for _, r := range lowered {
		switch {
		case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits normalized text into comparison tokens. Words in space-delimited scripts
// become one token each; runs of Han, Kana or Hangul become overlapping character bigrams.
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}

	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.Is(unicode.Mn, r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		tokens = appendFieldTokens(tokens, field)
	}
	return tokens
}

func appendFieldTokens(tokens []string, field string) []string {
	var word []rune
	var ideo []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	flushIdeo := func() {
		switch len(ideo) {
		case 0:
		case 1:
			tokens = append(tokens, string(ideo))
		default:
			for i := 0; i+1 < len(ideo); i++ {
				tokens = append(tokens, string(ideo[i:i+2]))
			}
		}
		ideo = ideo[:0]
	}

	for _, r := range field {
		if isIdeographic(r) {
			flushWord()
			ideo = append(ideo, r)
			continue
		}
		flushIdeo()
		word = append(word, r)
	}
	flushWord()
	flushIdeo()
	return tokens
}

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// TokenSet returns the distinct tokens of normalized text.
func TokenSet(normalized string) map[string]struct{} {
	tokens := Tokens(normalized)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// Jaccard is |a∩b| / |a∪b|; empty inputs score 0.
func Jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	if len(left) > len(right) {
		left, right = right, left
	}
	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}
	return float64(intersection) / float64(len(left)+len(right)-intersection)
}
