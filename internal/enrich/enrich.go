// Package enrich implements batch enrichment of raw postings: LLM skill
// and culture extraction plus deterministic ghost scoring.
//
// Failure semantics: a single job's enrichment failure never aborts the
// batch, and extraction failure is independent of ghost scoring.
package enrich

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"jobscout/core-service/internal/llm"
	"jobscout/core-service/internal/model"
)

// TaskSkillExtraction routes to a cost-optimised model via the registry.
const TaskSkillExtraction = "skill_extraction"

// maxExtractionChars bounds the description text sent to the LLM.
const maxExtractionChars = 15_000

// Completer is the slice of the metered proxy the enrichment service
// needs.
type Completer interface {
	Complete(ctx context.Context, userID string, req llm.CompletionRequest) (*llm.LLMResponse, error)
}

// EnrichedJob is a raw posting annotated with extraction and ghost data.
type EnrichedJob struct {
	model.RawJob

	RequiredSkills   []string
	PreferredSkills  []string
	CultureText      *string
	ExtractionFailed bool

	GhostScore   *float64
	GhostSignals *model.GhostSignals
}

// Service runs batch enrichment.
type Service struct {
	llm Completer
}

// NewService constructs a Service.
func NewService(completer Completer) *Service { return &Service{llm: completer} }

// extractionResponse is the JSON shape expected from the extraction task.
type extractionResponse struct {
	RequiredSkills  []string `json:"required_skills"`
	PreferredSkills []string `json:"preferred_skills"`
	CultureText     string   `json:"culture_text"`
}

// EnrichJobs enriches each job independently. userID is the account billed
// for the extraction calls.
func (s *Service) EnrichJobs(ctx context.Context, userID string, jobs []model.RawJob) []EnrichedJob {
	out := make([]EnrichedJob, 0, len(jobs))
	now := time.Now().UTC()

	for _, raw := range jobs {
		job := EnrichedJob{RawJob: raw, RequiredSkills: []string{}, PreferredSkills: []string{}}

		if err := s.extract(ctx, userID, &job); err != nil {
			log.Printf("[enrich] extraction failed for %s/%s: %v — continuing",
				raw.SourceName, raw.ExternalID, err)
			job.RequiredSkills = []string{}
			job.PreferredSkills = []string{}
			job.CultureText = nil
			job.ExtractionFailed = true
		}

		// Ghost scoring is deterministic and independent of extraction.
		score, signals := GhostScore(raw.PostedDate, 0, now)
		job.GhostScore = &score
		job.GhostSignals = &signals

		out = append(out, job)
	}
	return out
}

func (s *Service) extract(ctx context.Context, userID string, job *EnrichedJob) error {
	desc := CleanDescription(job.Description)

	resp, err := s.llm.Complete(ctx, userID, llm.CompletionRequest{
		Task:     TaskSkillExtraction,
		JSONMode: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You extract structured hiring signals from job descriptions. " +
				"Reply with JSON: {\"required_skills\": [...], \"preferred_skills\": [...], \"culture_text\": \"...\"}."},
			{Role: llm.RoleUser, Content: "Title: " + job.Title + "\nCompany: " + job.Company + "\n\n" + desc},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return err
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return err
	}

	if parsed.RequiredSkills != nil {
		job.RequiredSkills = parsed.RequiredSkills
	}
	if parsed.PreferredSkills != nil {
		job.PreferredSkills = parsed.PreferredSkills
	}
	if parsed.CultureText != "" {
		culture := parsed.CultureText
		job.CultureText = &culture
	}
	return nil
}

// CleanDescription strips zero-width characters and truncates to the
// extraction bound.
func CleanDescription(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		return r
	}, s)
	if len(s) > maxExtractionChars {
		s = s[:maxExtractionChars]
	}
	return s
}
