package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Languages the detector chooses between. The set covers the feeds in the default
// catalog plus the locales whose case mapping differs from the Unicode default.
var candidateLanguages = []lingua.Language{
	lingua.English,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Russian,
	lingua.Turkish,
	lingua.Azerbaijani,
	lingua.Lithuanian,
	lingua.Greek,
}

// DetectISO6391 returns the ISO 639-1 code of the text's language, or "" when the sample
// is too short or ambiguous.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	detected, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(detected.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidateLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
