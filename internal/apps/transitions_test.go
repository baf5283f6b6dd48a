package apps_test

import (
	"testing"

	"jobscout/core-service/internal/apps"
)

// ── ParseStatus ────────────────────────────────────────────────────────────

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{"APPLIED", "INTERVIEWING", "OFFER", "ACCEPTED", "REJECTED", "WITHDRAWN"}
	for _, s := range valid {
		got, err := apps.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_InvalidValue(t *testing.T) {
	_, err := apps.ParseStatus("UNKNOWN")
	if err == nil {
		t.Error("ParseStatus(\"UNKNOWN\") expected error, got nil")
	}
}

func TestParseStatus_EmptyString(t *testing.T) {
	_, err := apps.ParseStatus("")
	if err == nil {
		t.Error("ParseStatus(\"\") expected error, got nil")
	}
}

// ── IsAccepted ─────────────────────────────────────────────────────────────

func TestIsAccepted(t *testing.T) {
	if !apps.IsAccepted(apps.StatusAccepted) {
		t.Error("IsAccepted(ACCEPTED) should return true")
	}
	for _, s := range []apps.Status{
		apps.StatusApplied,
		apps.StatusInterviewing,
		apps.StatusOffer,
		apps.StatusRejected,
		apps.StatusWithdrawn,
	} {
		if apps.IsAccepted(s) {
			t.Errorf("IsAccepted(%s) should return false", s)
		}
	}
}

// ── IsTransitionAllowed — valid (forward) transitions ─────────────────────

func TestIsTransitionAllowed_ValidForward(t *testing.T) {
	cases := []struct {
		from, to apps.Status
	}{
		{apps.StatusApplied, apps.StatusInterviewing},
		{apps.StatusInterviewing, apps.StatusOffer},
		{apps.StatusOffer, apps.StatusAccepted},
	}
	for _, c := range cases {
		if !apps.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s, %s) should be true", c.from, c.to)
		}
	}
}

// ── IsTransitionAllowed — exits to REJECTED / WITHDRAWN ────────────────────

func TestIsTransitionAllowed_Exits(t *testing.T) {
	for _, from := range []apps.Status{
		apps.StatusApplied,
		apps.StatusInterviewing,
		apps.StatusOffer,
	} {
		if !apps.IsTransitionAllowed(from, apps.StatusRejected) {
			t.Errorf("IsTransitionAllowed(%s, REJECTED) should be true", from)
		}
		if !apps.IsTransitionAllowed(from, apps.StatusWithdrawn) {
			t.Errorf("IsTransitionAllowed(%s, WITHDRAWN) should be true", from)
		}
	}
}

// ── IsTransitionAllowed — forbidden moves ──────────────────────────────────

func TestIsTransitionAllowed_NoSkipping(t *testing.T) {
	cases := []struct {
		from, to apps.Status
	}{
		{apps.StatusApplied, apps.StatusOffer},
		{apps.StatusApplied, apps.StatusAccepted},
		{apps.StatusInterviewing, apps.StatusAccepted},
	}
	for _, c := range cases {
		if apps.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s, %s) should be false — stages cannot be skipped", c.from, c.to)
		}
	}
}

func TestIsTransitionAllowed_NoBackward(t *testing.T) {
	cases := []struct {
		from, to apps.Status
	}{
		{apps.StatusInterviewing, apps.StatusApplied},
		{apps.StatusOffer, apps.StatusInterviewing},
	}
	for _, c := range cases {
		if apps.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s, %s) should be false — no backward moves", c.from, c.to)
		}
	}
}
