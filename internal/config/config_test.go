package config

import (
	"reflect"
	"testing"
)

func TestParseAdminEmails(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"single", "ops@example.com", []string{"ops@example.com"}},
		{"lowercases and trims", " Ops@Example.com , admin@example.com ", []string{"ops@example.com", "admin@example.com"}},
		{"drops empty segments", "a@b.com,,  ,c@d.com", []string{"a@b.com", "c@d.com"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ParseAdminEmails(c.raw); !reflect.DeepEqual(got, c.want) {
				t.Errorf("ParseAdminEmails(%q) = %v, want %v", c.raw, got, c.want)
			}
		})
	}
}

func TestIntEnv_Default(t *testing.T) {
	got, err := intEnv("THIS_VARIABLE_IS_NOT_SET_ANYWHERE", 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 15 {
		t.Errorf("intEnv default = %d, want 15", got)
	}
}

func TestIntEnv_RejectsNonPositive(t *testing.T) {
	t.Setenv("TEST_INTERVAL", "0")
	if _, err := intEnv("TEST_INTERVAL", 15); err == nil {
		t.Error("expected error for non-positive value")
	}

	t.Setenv("TEST_INTERVAL", "abc")
	if _, err := intEnv("TEST_INTERVAL", 15); err == nil {
		t.Error("expected error for non-numeric value")
	}
}
