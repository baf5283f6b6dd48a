package source

import (
	"fmt"
	"reflect"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code      int
		wantType  ErrType
		retryable bool
	}{
		{401, ErrAuth, false},
		{403, ErrAuth, false},
		{429, ErrRateLimited, true},
		{500, ErrAPIDown, true},
		{503, ErrAPIDown, true},
		{404, ErrParse, false},
		{418, ErrParse, false},
	}
	for _, c := range cases {
		got := classifyStatus(c.code, "body")
		if got.Type != c.wantType {
			t.Errorf("classifyStatus(%d).Type = %s, want %s", c.code, got.Type, c.wantType)
		}
		if got.Retryable != c.retryable {
			t.Errorf("classifyStatus(%d).Retryable = %v, want %v", c.code, got.Retryable, c.retryable)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(classifyStatus(500, "")) {
		t.Error("5xx should be retryable")
	}
	if IsRetryable(classifyStatus(401, "")) {
		t.Error("auth failures should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("non-SourceError should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestIsKnownSource(t *testing.T) {
	if !IsKnownSource(SourceAdzuna) || !IsKnownSource(SourceRemoteOK) {
		t.Error("allow-listed sources must be known")
	}
	for _, name := range []string{"", "linkedin", "ADZUNA"} {
		if IsKnownSource(name) {
			t.Errorf("IsKnownSource(%q) should be false — the allow-list is closed and case-sensitive", name)
		}
	}
}

func TestRegistry_DropsUnknownAdapters(t *testing.T) {
	r := NewRegistry(NewRemoteOKAdapter())

	if _, ok := r.Lookup(SourceRemoteOK); !ok {
		t.Error("registered adapter should be found")
	}
	if _, ok := r.Lookup("linkedin"); ok {
		t.Error("unknown source should not resolve")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{SourceRemoteOK}) {
		t.Errorf("Names() = %v, want [%s]", got, SourceRemoteOK)
	}
}
