package metering

import (
	"testing"

	"github.com/shopspring/decimal"

	"jobscout/core-service/internal/model"
)

func pricing(input, output, margin string) *model.PricingRow {
	return &model.PricingRow{
		InputCostPer1K:   decimal.RequireFromString(input),
		OutputCostPer1K:  decimal.RequireFromString(output),
		MarginMultiplier: decimal.RequireFromString(margin),
	}
}

func TestCost_BilledIsRawTimesMargin(t *testing.T) {
	// 1000 in @ $0.001/1k + 500 out @ $0.003/1k = $0.0025 raw;
	// × margin 1.30 = $0.00325 billed.
	raw, billed := Cost(1000, 500, pricing("0.001", "0.003", "1.30"))

	if !raw.Equal(decimal.RequireFromString("0.0025")) {
		t.Errorf("raw = %s, want 0.0025", raw)
	}
	if !billed.Equal(decimal.RequireFromString("0.00325")) {
		t.Errorf("billed = %s, want 0.00325", billed)
	}
}

func TestCost_ZeroTokens(t *testing.T) {
	raw, billed := Cost(0, 0, pricing("0.001", "0.003", "1.30"))
	if !raw.IsZero() || !billed.IsZero() {
		t.Errorf("zero tokens: raw = %s, billed = %s, want 0/0", raw, billed)
	}
}

func TestCost_RoundsToSixDecimals(t *testing.T) {
	// 1 token @ $0.001/1k = $0.000001 exactly at the sixth decimal.
	raw, _ := Cost(1, 0, pricing("0.001", "0", "1"))
	if !raw.Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("raw = %s, want 0.000001", raw)
	}

	// 1 token @ $0.0015/1k rounds away the seventh decimal.
	raw, _ = Cost(1, 0, pricing("0.0015", "0", "1"))
	if raw.Exponent() < -6 {
		t.Errorf("raw = %s, want at most six decimal places", raw)
	}
}

func TestCost_MarginOfOneKeepsRawPrice(t *testing.T) {
	raw, billed := Cost(2000, 1000, pricing("0.002", "0.004", "1"))
	if !raw.Equal(billed) {
		t.Errorf("raw %s != billed %s with margin 1", raw, billed)
	}
	if !raw.Equal(decimal.RequireFromString("0.008")) {
		t.Errorf("raw = %s, want 0.008", raw)
	}
}

func TestCost_InputOnly(t *testing.T) {
	// Embedding-style call: output tokens are always zero.
	raw, billed := Cost(3000, 0, pricing("0.0001", "0.9", "2"))
	if !raw.Equal(decimal.RequireFromString("0.0003")) {
		t.Errorf("raw = %s, want 0.0003", raw)
	}
	if !billed.Equal(decimal.RequireFromString("0.0006")) {
		t.Errorf("billed = %s, want 0.0006", billed)
	}
}

func TestCanSpend(t *testing.T) {
	cases := []struct {
		balance string
		want    bool
	}{
		{"10.50", true},
		{"0.000001", true},
		{"0", false},
		{"-0.01", false},
	}
	for _, c := range cases {
		if got := CanSpend(decimal.RequireFromString(c.balance)); got != c.want {
			t.Errorf("CanSpend(%s) = %v, want %v", c.balance, got, c.want)
		}
	}
}

func TestDebitAmount_NeverOverdraws(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		billed  string
		want    string
	}{
		{"sufficient balance debits in full", "10", "0.00325", "0.00325"},
		{"final call clamps to the remaining balance", "0.001", "0.00325", "0.001"},
		{"exact balance drains to zero", "0.00325", "0.00325", "0.00325"},
		{"zero balance debits nothing", "0", "0.00325", "0"},
		{"negative balance debits nothing", "-1", "0.00325", "0"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DebitAmount(decimal.RequireFromString(c.balance), decimal.RequireFromString(c.billed))
			if !got.Equal(decimal.RequireFromString(c.want)) {
				t.Errorf("DebitAmount(%s, %s) = %s, want %s", c.balance, c.billed, got, c.want)
			}
			after := decimal.RequireFromString(c.balance).Sub(got)
			if decimal.RequireFromString(c.balance).IsPositive() && after.IsNegative() {
				t.Errorf("balance %s went negative after debit %s", c.balance, got)
			}
		})
	}
}

func TestInsufficientBalanceError(t *testing.T) {
	err := &Error{Code: CodeInsufficientBalance, Message: "user u1"}
	want := "INSUFFICIENT_BALANCE: user u1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestBillingModel(t *testing.T) {
	cases := []struct {
		name     string
		resolved string
		resp     string
		want     string
	}{
		{"response model wins", "gpt-4o", "gpt-4o-2024-08-06", "gpt-4o-2024-08-06"},
		{"empty response falls back to resolved", "gpt-4o", "", "gpt-4o"},
		{"identical models stay put", "gpt-4o", "gpt-4o", "gpt-4o"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := BillingModel(c.resolved, c.resp); got != c.want {
				t.Errorf("BillingModel(%q, %q) = %q, want %q", c.resolved, c.resp, got, c.want)
			}
		})
	}
}
