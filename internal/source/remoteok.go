package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"jobscout/core-service/internal/model"
)

const remoteOKURL = "https://remoteok.com/api"

// RemoteOKAdapter fetches remote job offers from the RemoteOK public API.
// No credentials are required.
type RemoteOKAdapter struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRemoteOKAdapter constructs the adapter.
func NewRemoteOKAdapter() *RemoteOKAdapter {
	return &RemoteOKAdapter{
		client:  &http.Client{Timeout: httpTimeout},
		breaker: newSourceBreaker(SourceRemoteOK),
	}
}

// Name implements Adapter.
func (a *RemoteOKAdapter) Name() string { return SourceRemoteOK }

// remoteOKItem mirrors one entry of the RemoteOK feed. The first element of
// the feed is a legal notice object without an id; it is skipped.
type remoteOKItem struct {
	ID          string   `json:"id"`
	Position    string   `json:"position"`
	Company     string   `json:"company"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Location    string   `json:"location"`
	SalaryMin   float64  `json:"salary_min"`
	SalaryMax   float64  `json:"salary_max"`
	Date        string   `json:"date"`
	Tags        []string `json:"tags"`
}

// FetchJobs downloads the feed and filters it by params.Keywords (the API
// has no server-side keyword search worth relying on).
func (a *RemoteOKAdapter) FetchJobs(ctx context.Context, params SearchParams) ([]model.RawJob, error) {
	out, err := a.breaker.Execute(func() (any, error) {
		return a.fetchFeed(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &SourceError{Type: ErrAPIDown, Message: "circuit breaker open", Retryable: true}
		}
		return nil, err
	}
	items := out.([]remoteOKItem)

	limit := params.ResultsPerPage
	if limit <= 0 {
		limit = 50
	}

	results := make([]model.RawJob, 0, limit)
	for _, it := range items {
		if it.ID == "" || it.Position == "" {
			continue // feed preamble
		}
		if !matchesKeywords(it, params.Keywords) {
			continue
		}
		job := model.RawJob{
			ExternalID:  it.ID,
			Title:       it.Position,
			Company:     it.Company,
			Description: it.Description,
			SourceURL:   it.URL,
			Location:    it.Location,
		}
		if it.SalaryMin > 0 {
			v := it.SalaryMin
			job.SalaryMin = &v
		}
		if it.SalaryMax > 0 {
			v := it.SalaryMax
			job.SalaryMax = &v
		}
		if t, err := time.Parse(time.RFC3339, it.Date); err == nil {
			job.PostedDate = &t
		}
		results = append(results, job)
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

func matchesKeywords(it remoteOKItem, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(it.Position + " " + it.Description + " " + strings.Join(it.Tags, " "))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (a *RemoteOKAdapter) fetchFeed(ctx context.Context) ([]remoteOKItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteOKURL, nil)
	if err != nil {
		return nil, &SourceError{Type: ErrParse, Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &SourceError{Type: ErrTimeout, Message: err.Error(), Retryable: true}
		}
		return nil, &SourceError{Type: ErrAPIDown, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SourceError{Type: ErrAPIDown, Message: fmt.Sprintf("read body: %v", err), Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	var items []remoteOKItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &SourceError{Type: ErrParse, Message: fmt.Sprintf("json unmarshal: %v", err), Retryable: false}
	}
	return items, nil
}
