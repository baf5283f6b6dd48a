package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"jobscout/core-service/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per fetch
	httpTimeout    = 15 * time.Second
)

// AdzunaAdapter fetches job offers from the Adzuna public API.
// If AppID or AppKey is empty, FetchJobs returns (nil, nil) gracefully —
// the orchestrator will simply skip the source for that round.
type AdzunaAdapter struct {
	AppID   string
	AppKey  string
	Country string // "us", "gb", "fr", …
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewAdzunaAdapter constructs an adapter with a shared HTTP client and a
// per-source circuit breaker: after repeated upstream failures the breaker
// opens and fetches fail fast with a retryable API_DOWN error.
func NewAdzunaAdapter(appID, appKey, country string) *AdzunaAdapter {
	return &AdzunaAdapter{
		AppID:   appID,
		AppKey:  appKey,
		Country: country,
		client:  &http.Client{Timeout: httpTimeout},
		breaker: newSourceBreaker(SourceAdzuna),
	}
}

func newSourceBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Name implements Adapter.
func (a *AdzunaAdapter) Name() string { return SourceAdzuna }

// adzunaResponse mirrors the top-level Adzuna JSON response.
type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

// adzunaResult mirrors a single Adzuna job listing.
type adzunaResult struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Company     adzunaCompany  `json:"company"`
	Location    adzunaLocation `json:"location"`
	SalaryMin   float64        `json:"salary_min"`
	SalaryMax   float64        `json:"salary_max"`
	RedirectURL string         `json:"redirect_url"`
	Created     string         `json:"created"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

// FetchJobs retrieves offers matching params, iterating through pages until
// no more results or adzunaMaxPages is reached. Returns nil without error
// when credentials are missing.
func (a *AdzunaAdapter) FetchJobs(ctx context.Context, params SearchParams) ([]model.RawJob, error) {
	if a.AppID == "" || a.AppKey == "" {
		log.Println("[adzuna] ADZUNA_APP_ID / ADZUNA_APP_KEY not set — skipping fetch")
		return nil, nil
	}

	var results []model.RawJob

	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := a.fetchPage(ctx, params, page)
		if err != nil {
			if page > 1 {
				// Partial results already gathered; surface what we have.
				log.Printf("[adzuna] page %d failed, returning %d results: %v", page, len(results), err)
				return results, nil
			}
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		results = append(results, batch...)
		if len(batch) < adzunaPageSize {
			break // last page
		}
	}

	return results, nil
}

func (a *AdzunaAdapter) fetchPage(ctx context.Context, params SearchParams, page int) ([]model.RawJob, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", adzunaBaseURL, a.Country, page)

	perPage := params.ResultsPerPage
	if perPage <= 0 || perPage > adzunaPageSize {
		perPage = adzunaPageSize
	}

	q := url.Values{}
	q.Set("app_id", a.AppID)
	q.Set("app_key", a.AppKey)
	q.Set("results_per_page", strconv.Itoa(perPage))
	q.Set("what", strings.Join(params.Keywords, " "))
	q.Set("content-type", "application/json")
	q.Set("sort_by", "date")
	if params.RemoteOnly {
		q.Set("where", "remote")
	} else if params.Location != "" {
		q.Set("where", params.Location)
	}

	out, err := a.breaker.Execute(func() (any, error) {
		return a.doPage(ctx, endpoint+"?"+q.Encode())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &SourceError{Type: ErrAPIDown, Message: "circuit breaker open", Retryable: true}
		}
		return nil, err
	}
	return out.([]model.RawJob), nil
}

func (a *AdzunaAdapter) doPage(ctx context.Context, reqURL string) ([]model.RawJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
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

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &SourceError{Type: ErrParse, Message: fmt.Sprintf("json unmarshal: %v", err), Retryable: false}
	}

	results := make([]model.RawJob, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		job := model.RawJob{
			ExternalID:  r.ID,
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Description: r.Description,
			SourceURL:   r.RedirectURL,
			Location:    r.Location.DisplayName,
		}
		if r.SalaryMin > 0 {
			v := r.SalaryMin
			job.SalaryMin = &v
		}
		if r.SalaryMax > 0 {
			v := r.SalaryMax
			job.SalaryMax = &v
		}
		if t, err := time.Parse(time.RFC3339, r.Created); err == nil {
			job.PostedDate = &t
		}
		results = append(results, job)
	}

	return results, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
