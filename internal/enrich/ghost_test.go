package enrich

import (
	"testing"
	"time"
)

func TestGhostScore_FreshPosting(t *testing.T) {
	now := time.Now().UTC()
	posted := now.AddDate(0, 0, -3)

	score, signals := GhostScore(&posted, 0, now)
	if score != 0 {
		t.Errorf("score = %v, want 0 for a fresh posting", score)
	}
	if signals.Stale || signals.MissingDate {
		t.Errorf("signals = %+v, want no stale/missing flags", signals)
	}
	if signals.DaysSincePosted == nil || *signals.DaysSincePosted != 3 {
		t.Errorf("DaysSincePosted = %v, want 3", signals.DaysSincePosted)
	}
}

func TestGhostScore_Stale(t *testing.T) {
	now := time.Now().UTC()
	posted := now.AddDate(0, 0, -30)

	score, signals := GhostScore(&posted, 0, now)
	if score != 25 {
		t.Errorf("score = %v, want 25 for a 30-day-old posting", score)
	}
	if !signals.Stale {
		t.Error("expected Stale signal")
	}
}

func TestGhostScore_VeryStale(t *testing.T) {
	now := time.Now().UTC()
	posted := now.AddDate(0, 0, -60)

	score, _ := GhostScore(&posted, 0, now)
	if score != 45 {
		t.Errorf("score = %v, want 45 for a 60-day-old posting", score)
	}
}

func TestGhostScore_MissingDate(t *testing.T) {
	score, signals := GhostScore(nil, 0, time.Now().UTC())
	if score != 10 {
		t.Errorf("score = %v, want 10 for a missing date", score)
	}
	if !signals.MissingDate {
		t.Error("expected MissingDate signal")
	}
}

func TestGhostScore_Reposts(t *testing.T) {
	now := time.Now().UTC()
	posted := now.AddDate(0, 0, -1)

	cases := []struct {
		reposts int
		want    float64
	}{
		{1, 15},
		{2, 30},
		{3, 45},
		{5, 45}, // capped
	}
	for _, c := range cases {
		score, signals := GhostScore(&posted, c.reposts, now)
		if score != c.want {
			t.Errorf("GhostScore(fresh, %d reposts) = %v, want %v", c.reposts, score, c.want)
		}
		if signals.RepostCount != c.reposts {
			t.Errorf("RepostCount = %d, want %d", signals.RepostCount, c.reposts)
		}
	}
}

func TestGhostScore_ClampedAt100(t *testing.T) {
	score, _ := GhostScore(nil, 10, time.Now().UTC())
	if score > 100 {
		t.Errorf("score = %v, must never exceed 100", score)
	}
}

func TestGhostScore_FutureDateCountsAsZeroDays(t *testing.T) {
	now := time.Now().UTC()
	posted := now.AddDate(0, 0, 2)

	score, signals := GhostScore(&posted, 0, now)
	if score != 0 {
		t.Errorf("score = %v, want 0 for a future-dated posting", score)
	}
	if signals.DaysSincePosted == nil || *signals.DaysSincePosted != 0 {
		t.Errorf("DaysSincePosted = %v, want 0", signals.DaysSincePosted)
	}
}

// ── CleanDescription ───────────────────────────────────────────────────────

func TestCleanDescription_StripsZeroWidthRunes(t *testing.T) {
	dirty := "Se\u200bnior Eng\u200cineer\u200d\ufeff"
	if got := CleanDescription(dirty); got != "Senior Engineer" {
		t.Errorf("CleanDescription = %q, want %q", got, "Senior Engineer")
	}
}

func TestCleanDescription_TruncatesLongText(t *testing.T) {
	long := make([]byte, maxExtractionChars+500)
	for i := range long {
		long[i] = 'x'
	}
	if got := CleanDescription(string(long)); len(got) != maxExtractionChars {
		t.Errorf("len = %d, want %d", len(got), maxExtractionChars)
	}
}
