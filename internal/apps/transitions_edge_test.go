package apps_test

import (
	"testing"

	"jobscout/core-service/internal/apps"
)

// ── Terminal states ────────────────────────────────────────────────────────

func TestTerminalStates_NoOutgoingTransitions(t *testing.T) {
	terminals := []apps.Status{
		apps.StatusAccepted,
		apps.StatusRejected,
		apps.StatusWithdrawn,
	}
	targets := []apps.Status{
		apps.StatusApplied,
		apps.StatusInterviewing,
		apps.StatusOffer,
		apps.StatusAccepted,
		apps.StatusRejected,
		apps.StatusWithdrawn,
	}
	for _, from := range terminals {
		if !apps.IsTerminal(from) {
			t.Errorf("IsTerminal(%s) should be true", from)
		}
		for _, to := range targets {
			if apps.IsTransitionAllowed(from, to) {
				t.Errorf("IsTransitionAllowed(%s, %s) should be false — %s is terminal", from, to, from)
			}
		}
	}
}

func TestNonTerminalStates(t *testing.T) {
	for _, s := range []apps.Status{
		apps.StatusApplied,
		apps.StatusInterviewing,
		apps.StatusOffer,
	} {
		if apps.IsTerminal(s) {
			t.Errorf("IsTerminal(%s) should be false", s)
		}
	}
}

// ── Self-transitions ───────────────────────────────────────────────────────

func TestIsTransitionAllowed_NoSelfTransition(t *testing.T) {
	all := []apps.Status{
		apps.StatusApplied,
		apps.StatusInterviewing,
		apps.StatusOffer,
		apps.StatusAccepted,
		apps.StatusRejected,
		apps.StatusWithdrawn,
	}
	for _, s := range all {
		if apps.IsTransitionAllowed(s, s) {
			t.Errorf("IsTransitionAllowed(%s, %s) should be false — no self-transitions", s, s)
		}
	}
}

// ── Unknown statuses ───────────────────────────────────────────────────────

func TestIsTransitionAllowed_UnknownStatus(t *testing.T) {
	unknown := apps.Status("GHOSTED")
	if apps.IsTransitionAllowed(unknown, apps.StatusApplied) {
		t.Error("unknown from-status should never allow a transition")
	}
	if apps.IsTransitionAllowed(apps.StatusApplied, unknown) {
		t.Error("unknown to-status should never be a valid target")
	}
}
