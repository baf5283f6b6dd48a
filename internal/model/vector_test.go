package model

import (
	"math"
	"testing"
)

func TestVectorStringParseRoundTrip(t *testing.T) {
	v := Vector{0.5, -1.25, 3}
	parsed, err := ParseVector(v.String())
	if err != nil {
		t.Fatalf("ParseVector(%q): %v", v.String(), err)
	}
	if len(parsed) != len(v) {
		t.Fatalf("len = %d, want %d", len(parsed), len(v))
	}
	for i := range v {
		if math.Abs(float64(parsed[i]-v[i])) > 1e-6 {
			t.Errorf("parsed[%d] = %v, want %v", i, parsed[i], v[i])
		}
	}
}

func TestParseVector_Invalid(t *testing.T) {
	for _, raw := range []string{"", "1,2,3", "[1,2", "[a,b]"} {
		if _, err := ParseVector(raw); err == nil {
			t.Errorf("ParseVector(%q) expected error, got nil", raw)
		}
	}
}

func TestCosine(t *testing.T) {
	a := Vector{1, 0, 0}
	b := Vector{0, 1, 0}

	if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("Cosine(a, a) = %v, want 1", got)
	}
	if got := Cosine(a, b); math.Abs(got) > 1e-9 {
		t.Errorf("Cosine(orthogonal) = %v, want 0", got)
	}
	if got := Cosine(a, Vector{-1, 0, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("Cosine(opposite) = %v, want -1", got)
	}
}

func TestCosine_DegenerateInputs(t *testing.T) {
	if got := Cosine(Vector{1, 2}, Vector{1, 2, 3}); got != 0 {
		t.Errorf("mismatched dimensions = %v, want 0", got)
	}
	if got := Cosine(Vector{0, 0}, Vector{1, 1}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}
