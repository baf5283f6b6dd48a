package llm

import "testing"

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		name  string
		texts []string
		want  int
	}{
		{"empty", nil, 0},
		{"one short text", []string{"abcd"}, 1},
		{"sums across texts", []string{"abcd", "efghijkl"}, 3},
		{"integer division floors", []string{"abc"}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := EstimateTokens(c.texts); got != c.want {
				t.Errorf("EstimateTokens(%v) = %d, want %d", c.texts, got, c.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind ErrKind
		want bool
	}{
		{ErrRateLimit, true},
		{ErrTransient, true},
		{ErrAuth, false},
		{ErrContextLength, false},
		{ErrProvider, false},
	}
	for _, c := range cases {
		err := &ProviderError{Kind: c.kind, Message: "x"}
		if got := Retryable(err); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.kind, got, c.want)
		}
	}
	if Retryable(nil) {
		t.Error("Retryable(nil) should be false")
	}
}
