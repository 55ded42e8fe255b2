package langdetect

import "testing"

func TestDetectISO6391ShortSample(t *testing.T) {
	t.Parallel()

	if got := DetectISO6391("  ok "); got != "" {
		t.Fatalf("expected empty code for short sample, got %q", got)
	}
	if got := DetectISO6391(""); got != "" {
		t.Fatalf("expected empty code for empty sample, got %q", got)
	}
}

func TestDetectISO6391English(t *testing.T) {
	t.Parallel()

	got := DetectISO6391("The government announced new export controls on advanced semiconductors today")
	if got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
}
