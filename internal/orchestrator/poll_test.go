package orchestrator

import (
	"testing"
	"time"

	"jobscout/core-service/internal/model"
)

func TestNextPollAt(t *testing.T) {
	from := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		freq model.PollFrequency
		want *time.Time
	}{
		{model.PollDaily, timePtr(from.Add(24 * time.Hour))},
		{model.PollTwiceDaily, timePtr(from.Add(12 * time.Hour))},
		{model.PollWeekly, timePtr(from.Add(7 * 24 * time.Hour))},
		{model.PollManualOnly, nil},
	}
	for _, c := range cases {
		got := NextPollAt(c.freq, from)
		switch {
		case c.want == nil && got != nil:
			t.Errorf("NextPollAt(%s) = %v, want nil", c.freq, got)
		case c.want != nil && (got == nil || !got.Equal(*c.want)):
			t.Errorf("NextPollAt(%s) = %v, want %v", c.freq, got, c.want)
		}
	}
}

func TestNextPollAt_UnknownFrequencyLeavesScheduleAlone(t *testing.T) {
	if got := NextPollAt(model.PollFrequency("HOURLY"), time.Now()); got != nil {
		t.Errorf("unknown frequency should return nil, got %v", got)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestHashDescription_Stable(t *testing.T) {
	a := HashDescription("We are hiring.")
	b := HashDescription("We are hiring.")
	if a != b {
		t.Error("same input must hash identically")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestHashDescription_TrimsWhitespace(t *testing.T) {
	if HashDescription("  We are hiring.\n") != HashDescription("We are hiring.") {
		t.Error("surrounding whitespace must not change the hash")
	}
}

func TestHashDescription_DistinctInputs(t *testing.T) {
	if HashDescription("role a") == HashDescription("role b") {
		t.Error("different descriptions must hash differently")
	}
}
