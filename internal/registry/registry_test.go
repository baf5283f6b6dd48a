package registry

import (
	"testing"
	"time"

	"jobscout/core-service/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMarkCurrent_NewestNonFutureWins(t *testing.T) {
	now := day("2026-08-24")
	rows := []model.PricingRow{
		{Provider: "openai", Model: "gpt-4o", EffectiveDate: day("2026-09-01")}, // future
		{Provider: "openai", Model: "gpt-4o", EffectiveDate: day("2026-06-01")},
		{Provider: "openai", Model: "gpt-4o", EffectiveDate: day("2026-01-01")},
	}
	MarkCurrent(rows, now)

	if rows[0].IsCurrent {
		t.Error("a future-dated row must not be current")
	}
	if !rows[1].IsCurrent {
		t.Error("the newest non-future row must be current")
	}
	if rows[2].IsCurrent {
		t.Error("older rows must not be current")
	}
}

func TestMarkCurrent_PerModelGroups(t *testing.T) {
	now := day("2026-08-24")
	rows := []model.PricingRow{
		{Provider: "openai", Model: "gpt-4o", EffectiveDate: day("2026-05-01")},
		{Provider: "openai", Model: "gpt-4o-mini", EffectiveDate: day("2026-05-01")},
		{Provider: "anthropic", Model: "gpt-4o", EffectiveDate: day("2026-05-01")},
	}
	MarkCurrent(rows, now)

	for i, r := range rows {
		if !r.IsCurrent {
			t.Errorf("row %d (%s/%s) should be current — groups are independent", i, r.Provider, r.Model)
		}
	}
}

func TestMarkCurrent_EffectiveTodayIsCurrent(t *testing.T) {
	now := day("2026-08-24")
	rows := []model.PricingRow{
		{Provider: "openai", Model: "gpt-4o", EffectiveDate: day("2026-08-24")},
	}
	MarkCurrent(rows, now)
	if !rows[0].IsCurrent {
		t.Error("a row effective today must be current")
	}
}

func TestMarkCurrent_AllFuture(t *testing.T) {
	now := day("2026-08-24")
	rows := []model.PricingRow{
		{Provider: "openai", Model: "gpt-4o", EffectiveDate: day("2027-01-01")},
	}
	MarkCurrent(rows, now)
	if rows[0].IsCurrent {
		t.Error("no row should be current when all are future-dated")
	}
}

func TestConflictError_Message(t *testing.T) {
	err := &ConflictError{Code: CodeLastPricing, Message: "openai/gpt-4o"}
	want := "LAST_PRICING: openai/gpt-4o"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
