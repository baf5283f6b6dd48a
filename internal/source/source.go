// Package source implements the external job-board adapters.
//
// Fetching is side-effect-free with respect to the shared pool: adapters
// only read from their provider and return normalised RawJob values. The
// orchestrator owns failure isolation across adapters.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"jobscout/core-service/internal/model"
)

// SearchParams narrows an adapter fetch.
type SearchParams struct {
	Keywords       []string
	Location       string
	RemoteOnly     bool
	ResultsPerPage int
}

// Adapter fetches raw postings from one external provider.
type Adapter interface {
	Name() string
	FetchJobs(ctx context.Context, params SearchParams) ([]model.RawJob, error)
}

// ErrType classifies a source failure.
type ErrType string

const (
	ErrAPIDown     ErrType = "API_DOWN"
	ErrRateLimited ErrType = "RATE_LIMITED"
	ErrAuth        ErrType = "AUTH"
	ErrParse       ErrType = "PARSE"
	ErrTimeout     ErrType = "TIMEOUT"
)

// SourceError is a typed adapter failure. Callers use Retryable to decide
// logging severity and whether a backoff applies.
type SourceError struct {
	Type      ErrType
	Message   string
	Retryable bool
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error %s: %s", e.Type, e.Message)
}

// IsRetryable reports whether err is a retryable SourceError.
func IsRetryable(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Retryable
}

// classifyStatus maps an HTTP status code to a typed SourceError.
func classifyStatus(code int, body string) *SourceError {
	switch {
	case code == 401 || code == 403:
		return &SourceError{Type: ErrAuth, Message: fmt.Sprintf("status %d: %s", code, body), Retryable: false}
	case code == 429:
		return &SourceError{Type: ErrRateLimited, Message: fmt.Sprintf("status %d", code), Retryable: true}
	case code >= 500:
		return &SourceError{Type: ErrAPIDown, Message: fmt.Sprintf("status %d: %s", code, body), Retryable: true}
	default:
		return &SourceError{Type: ErrParse, Message: fmt.Sprintf("unexpected status %d: %s", code, body), Retryable: false}
	}
}

// Known source names form a closed allow-list; unknown names resolve to no
// adapter (the orchestrator logs a warning and skips them).
const (
	SourceAdzuna   = "adzuna"
	SourceRemoteOK = "remoteok"
)

// Registry resolves source names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters, keeping only
// those on the allow-list.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		if IsKnownSource(a.Name()) {
			r.adapters[a.Name()] = a
		}
	}
	return r
}

// Lookup returns the adapter for name, or false when none is registered.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists the registered adapter names, sorted for stable fanout
// order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsKnownSource reports whether name is on the closed allow-list. Only
// allow-listed names may auto-create job_sources rows.
func IsKnownSource(name string) bool {
	switch name {
	case SourceAdzuna, SourceRemoteOK:
		return true
	}
	return false
}
