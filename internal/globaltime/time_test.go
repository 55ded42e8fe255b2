package globaltime

import (
	"testing"
	"time"
)

func TestTodayFollowsLocation(t *testing.T) {
	SetMockTime(time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC))
	defer ResetTime()

	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if got := Today(nil); got != "2026-03-01" {
		t.Fatalf("Today(nil) = %s, want 2026-03-01", got)
	}
	if got := Today(shanghai); got != "2026-03-02" {
		t.Fatalf("Today(shanghai) = %s, want 2026-03-02", got)
	}
}

func TestSinceUsesPinnedClock(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	SetMockTime(start.Add(90 * time.Second))
	defer ResetTime()

	if got := Since(start); got != 90*time.Second {
		t.Fatalf("Since = %s, want 1m30s", got)
	}
	ResetTime()
	if UTC().Equal(start.Add(90 * time.Second)) {
		t.Fatalf("reset clock is still pinned")
	}
}
