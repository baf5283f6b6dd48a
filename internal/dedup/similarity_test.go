package dedup

import (
	"strings"
	"testing"
	"time"

	"jobscout/core-service/internal/model"
)

// ── TitlesSimilar ──────────────────────────────────────────────────────────

func TestTitlesSimilar(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "Software Engineer", "Software Engineer", true},
		{"seniority prefix", "Senior Software Engineer", "Software Engineer", true},
		{"case and punctuation", "Backend Engineer (Go)", "backend engineer go", true},
		{"unrelated roles", "Software Engineer", "Account Manager", false},
		{"partial overlap below gate", "Data Analyst", "Business Development Analyst Lead", false},
		{"empty title", "", "Software Engineer", false},
		{"both empty", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := TitlesSimilar(c.a, c.b); got != c.want {
				t.Errorf("TitlesSimilar(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

// ── DescriptionRatio ───────────────────────────────────────────────────────

func TestDescriptionRatio_Identical(t *testing.T) {
	desc := "We are hiring a backend engineer to build distributed systems in Go."
	if got := DescriptionRatio(desc, desc); got != 1.0 {
		t.Errorf("DescriptionRatio(same, same) = %v, want 1.0", got)
	}
}

func TestDescriptionRatio_Empty(t *testing.T) {
	if got := DescriptionRatio("", "anything at all"); got != 0 {
		t.Errorf("DescriptionRatio(empty, text) = %v, want 0", got)
	}
}

func TestDescriptionRatio_MostlyShared(t *testing.T) {
	a := "We are hiring a backend engineer to build distributed systems in Go. Strong Postgres experience required."
	b := "We are hiring a backend engineer to build distributed systems in Go. Strong Kafka experience required."
	got := DescriptionRatio(a, b)
	if got < MediumThreshold {
		t.Errorf("DescriptionRatio = %v, want >= %v for near-identical text", got, MediumThreshold)
	}
}

func TestDescriptionRatio_Unrelated(t *testing.T) {
	a := "Kitchen staff wanted for a busy downtown restaurant, evening shifts."
	b := "Principal cryptography researcher, post-quantum signature schemes."
	got := DescriptionRatio(a, b)
	if got >= MediumThreshold {
		t.Errorf("DescriptionRatio = %v, want < %v for unrelated text", got, MediumThreshold)
	}
}

func TestDescriptionRatio_TruncatesLongInput(t *testing.T) {
	long := strings.Repeat("word ", 30_000) // well past maxCompareLen chars
	if got := DescriptionRatio(long, long); got != 1.0 {
		t.Errorf("DescriptionRatio(long, long) = %v, want 1.0", got)
	}
}

// ── MergeSources ───────────────────────────────────────────────────────────

func TestMergeSources_AddsNewSource(t *testing.T) {
	current := model.AlsoFoundOn{Sources: []model.AlsoFoundOnEntry{
		{SourceID: "src-a", ExternalID: "1"},
	}}
	entry := model.AlsoFoundOnEntry{SourceID: "src-b", ExternalID: "2", FoundAt: time.Now()}

	merged, changed := MergeSources(current, entry)
	if !changed {
		t.Fatal("expected changed = true when adding a new source")
	}
	if len(merged.Sources) != 2 {
		t.Fatalf("merged has %d sources, want 2", len(merged.Sources))
	}
	if len(current.Sources) != 1 {
		t.Error("MergeSources must not mutate its input")
	}
}

func TestMergeSources_IdempotentOnKnownSource(t *testing.T) {
	current := model.AlsoFoundOn{Sources: []model.AlsoFoundOnEntry{
		{SourceID: "src-a", ExternalID: "1"},
	}}
	entry := model.AlsoFoundOnEntry{SourceID: "src-a", ExternalID: "other"}

	merged, changed := MergeSources(current, entry)
	if changed {
		t.Error("expected changed = false for an already-known source")
	}
	if len(merged.Sources) != 1 {
		t.Errorf("merged has %d sources, want 1", len(merged.Sources))
	}
}

func TestMergeSources_ReturnsNewSlice(t *testing.T) {
	current := model.AlsoFoundOn{Sources: []model.AlsoFoundOnEntry{
		{SourceID: "src-a"},
	}}
	merged, _ := MergeSources(current, model.AlsoFoundOnEntry{SourceID: "src-b"})

	merged.Sources[0].SourceID = "mutated"
	if current.Sources[0].SourceID != "src-a" {
		t.Error("mutating the merged slice must not affect the original")
	}
}
