package scoring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobscout/core-service/internal/llm"
	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/persona"
	"jobscout/core-service/internal/pool"
)

// TaskScoreRationale routes rationale generation through the registry.
const TaskScoreRationale = "score_rationale"

// RationaleThreshold gates the LLM call: below it a generic message is
// emitted without spending tokens.
const RationaleThreshold = 65.0

// MaxBatchSize bounds one scoring batch.
const MaxBatchSize = 500

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
var ErrBatchTooLarge = fmt.Errorf("scoring: batch exceeds %d jobs", MaxBatchSize)

// Completer is the metered chat surface the scorer needs.
type Completer interface {
	Complete(ctx context.Context, userID string, req llm.CompletionRequest) (*llm.LLMResponse, error)
}

// Embedder is the metered embedding surface the scorer needs.
type Embedder interface {
	Embed(ctx context.Context, userID string, texts []string) (*llm.EmbeddingResult, error)
}

// ScoreResult is the outcome for one job in a batch.
type ScoreResult struct {
	JobID              string
	LinkID             string
	Filtered           bool
	FilteredReason     []string
	FitScore           *float64
	StretchScore       *float64
	Rationale          string
	AutoDraftTriggered bool
}

// Service runs the scoring pipeline.
type Service struct {
	db       *pgxpool.Pool
	personas *persona.Repository
	jobs     *pool.Repository
	links    *pool.LinkRepository
	llm      Completer
	embedder Embedder
}

// NewService constructs a Service.
func NewService(db *pgxpool.Pool, llmClient Completer, embedder Embedder) *Service {
	return &Service{
		db:       db,
		personas: persona.NewRepository(db),
		jobs:     pool.NewRepository(db),
		links:    pool.NewLinkRepository(db),
		llm:      llmClient,
		embedder: embedder,
	}
}

// ScoreJob scores a single job for a persona.
func (s *Service) ScoreJob(ctx context.Context, personaID, jobID, userID string) (*ScoreResult, error) {
	results, err := s.ScoreBatch(ctx, personaID, []string{jobID}, userID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, pool.ErrNotFound
	}
	return &results[0], nil
}

// RescoreAllDiscovered rescoring every DISCOVERED link of a persona.
func (s *Service) RescoreAllDiscovered(ctx context.Context, personaID, userID string) ([]ScoreResult, error) {
	status := model.LinkDiscovered
	links, err := s.links.ListByPersona(ctx, personaID, userID, &status)
	if err != nil {
		return nil, err
	}
	var results []ScoreResult
	for start := 0; start < len(links); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(links) {
			end = len(links)
		}
		var jobIDs []string
		for _, l := range links[start:end] {
			jobIDs = append(jobIDs, l.JobPostingID)
		}
		batch, err := s.ScoreBatch(ctx, personaID, jobIDs, userID)
		if err != nil {
			return results, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// ScoreBatch scores up to MaxBatchSize jobs for one persona. Persona
// embeddings are generated exactly once for the whole batch; per-job LLM
// failures degrade to templated rationales instead of failing the batch.
func (s *Service) ScoreBatch(ctx context.Context, personaID string, jobIDs []string, userID string) ([]ScoreResult, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	if len(jobIDs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	p, err := s.personas.GetOwned(ctx, personaID, userID)
	if err != nil {
		return nil, err
	}

	embeddings, err := s.personaEmbeddings(ctx, p, userID)
	if err != nil {
		log.Printf("[scoring] Persona embeddings unavailable for %s: %v — scoring with neutral components", personaID, err)
		embeddings = nil
	}

	now := time.Now().UTC()
	var results []ScoreResult
	for _, jobID := range jobIDs {
		job, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			if errors.Is(err, pool.ErrNotFound) {
				log.Printf("[scoring] Job %s not found — skipping", jobID)
				continue
			}
			return results, err
		}
		res, err := s.scoreOne(ctx, p, job, userID, embeddings, now)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (s *Service) scoreOne(ctx context.Context, p *model.Persona, job *model.JobPosting, userID string, emb map[string]model.Vector, now time.Time) (*ScoreResult, error) {
	link, err := s.links.GetByPersonaAndJob(ctx, p.ID, job.ID)
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			return nil, fmt.Errorf("scoring: persona %s has no link to job %s: %w", p.ID, job.ID, pool.ErrNotFound)
		}
		return nil, err
	}

	res := ScoreResult{JobID: job.ID, LinkID: link.ID}

	failed := FailedNonNegotiables(p, job)
	if len(failed) > 0 {
		res.Filtered = true
		res.FilteredReason = failed
		_, err := s.links.Update(ctx, link.ID, userID, map[string]any{
			"fit_score":              nil,
			"stretch_score":          nil,
			"failed_non_negotiables": failed,
			"score_details":          map[string]any{"filtered_reason": failed},
			"scored_at":              now,
		})
		return &res, err
	}

	fit := s.fitComponents(ctx, p, job, userID, emb)
	stretch := StretchComponents{
		TargetRole:   TargetRoleScore(p.TargetRoles, job.Title),
		TargetSkills: TargetSkillsScore(p.TargetSkills, job),
		Growth:       GrowthScore(p.YearsExperience, job.YearsExpMin),
	}

	fitTotal := fit.Total()
	stretchTotal := stretch.Total()
	rationale := s.rationale(ctx, p, job, userID, fit, fitTotal)

	res.FitScore = &fitTotal
	res.StretchScore = &stretchTotal
	res.Rationale = rationale
	res.AutoDraftTriggered = fitTotal >= p.AutoDraftThreshold

	details := map[string]any{
		"fit_components": map[string]any{
			"hard_skills":        map[string]any{"score": fit.HardSkills, "weight": WeightHardSkills},
			"soft_skills":        map[string]any{"score": fit.SoftSkills, "weight": WeightSoftSkills},
			"experience_level":   map[string]any{"score": fit.Experience, "weight": WeightExperience},
			"role_title":         map[string]any{"score": fit.RoleTitle, "weight": WeightRoleTitle},
			"location_logistics": map[string]any{"score": fit.Logistics, "weight": WeightLogistics},
		},
		"stretch_components": map[string]any{
			"target_role":       map[string]any{"score": stretch.TargetRole, "weight": WeightTargetRole},
			"target_skills":     map[string]any{"score": stretch.TargetSkills, "weight": WeightTargetSkills},
			"growth_trajectory": map[string]any{"score": stretch.Growth, "weight": WeightGrowth},
		},
		"explanation": rationale,
	}
	if res.AutoDraftTriggered {
		details["auto_draft_triggered"] = true
		log.Printf("[scoring] Auto-draft threshold met for persona %s job %s (fit %.1f ≥ %.1f)",
			p.ID, job.ID, fitTotal, p.AutoDraftThreshold)
	}

	_, err = s.links.Update(ctx, link.ID, userID, map[string]any{
		"fit_score":              fitTotal,
		"stretch_score":          stretchTotal,
		"failed_non_negotiables": []string{},
		"score_details":          details,
		"scored_at":              now,
	})
	return &res, err
}

// personaEmbeddings loads stored embeddings, regenerating them when the
// persona has unresolved change flags or nothing is stored yet.
func (s *Service) personaEmbeddings(ctx context.Context, p *model.Persona, userID string) (map[string]model.Vector, error) {
	stale, err := s.personas.UnresolvedChangeFlags(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !stale {
		stored, err := s.personas.LoadEmbeddings(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(stored) == 3 {
			return stored, nil
		}
	}

	texts := []string{
		hardSkillsText(p),
		softSkillsText(p),
		logisticsText(p),
	}
	result, err := s.embedder.Embed(ctx, userID, texts)
	if err != nil {
		return nil, err
	}
	if len(result.Vectors) != 3 {
		return nil, fmt.Errorf("scoring: expected 3 persona embeddings, got %d", len(result.Vectors))
	}

	out := map[string]model.Vector{
		persona.KindHardSkills: model.Vector(result.Vectors[0]),
		persona.KindSoftSkills: model.Vector(result.Vectors[1]),
		persona.KindLogistics:  model.Vector(result.Vectors[2]),
	}
	for kind, vec := range out {
		if err := s.personas.SaveEmbedding(ctx, p.ID, kind, vec); err != nil {
			return nil, err
		}
	}
	if err := s.personas.ResolveChangeFlags(ctx, p.ID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) fitComponents(ctx context.Context, p *model.Persona, job *model.JobPosting, userID string, emb map[string]model.Vector) FitComponents {
	c := FitComponents{
		HardSkills: KeywordOverlap(skillNames(p), job.RequiredSkills),
		SoftSkills: NeutralScore,
		Experience: ExperienceScore(p.YearsExperience, job.YearsExpMin, job.YearsExpMax),
		RoleTitle:  NeutralScore,
		Logistics:  LocationScore(p.RemotePreference, job.WorkModel),
	}
	if emb == nil {
		return c
	}

	texts := []string{strings.Join(job.RequiredSkills, ", "), jobCultureText(job), job.Title}
	result, err := s.embedder.Embed(ctx, userID, texts)
	if err != nil || len(result.Vectors) != 3 {
		log.Printf("[scoring] Job embedding failed for %s: %v — keyword components only", job.ID, err)
		return c
	}

	if hard, ok := emb[persona.KindHardSkills]; ok {
		cosine := model.Cosine(hard, model.Vector(result.Vectors[0])) * 100
		c.HardSkills = clamp(0.5*cosine + 0.5*c.HardSkills)
		c.RoleTitle = clamp(model.Cosine(hard, model.Vector(result.Vectors[2])) * 100)
	}
	if soft, ok := emb[persona.KindSoftSkills]; ok {
		c.SoftSkills = clamp(model.Cosine(soft, model.Vector(result.Vectors[1])) * 100)
	}
	return c
}

func (s *Service) rationale(ctx context.Context, p *model.Persona, job *model.JobPosting, userID string, fit FitComponents, total float64) string {
	if total < RationaleThreshold {
		return fmt.Sprintf("Limited match (%.0f/100): this role does not line up strongly with your profile.", total)
	}

	resp, err := s.llm.Complete(ctx, userID, llm.CompletionRequest{
		Task:      TaskScoreRationale,
		MaxTokens: 300,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You explain job-match scores to candidates in one short paragraph. Be specific and plain."},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Candidate: %s, %d years experience, skills: %s.\nJob: %s at %s.\nComponent scores — hard skills %.0f, soft skills %.0f, experience %.0f, role title %.0f, logistics %.0f. Overall %.0f/100.\nExplain the match in one paragraph.",
				p.FullName, p.YearsExperience, strings.Join(skillNames(p), ", "),
				job.Title, job.CompanyName,
				fit.HardSkills, fit.SoftSkills, fit.Experience, fit.RoleTitle, fit.Logistics, total)},
		},
	})
	if err != nil {
		log.Printf("[scoring] Rationale generation failed for job %s: %v — using template", job.ID, err)
		return fmt.Sprintf("Strong match (%.0f/100): your skills align with %s at %s (hard skills %.0f, experience %.0f).",
			total, job.Title, job.CompanyName, fit.HardSkills, fit.Experience)
	}
	return strings.TrimSpace(resp.Content)
}

// LightweightFit is the surfacing-path scorer: embedding-backed components
// are replaced with neutral placeholders so no provider call is made.
func LightweightFit(p *model.Persona, job *model.JobPosting) float64 {
	c := FitComponents{
		HardSkills: KeywordOverlap(skillNames(p), job.RequiredSkills),
		SoftSkills: NeutralScore,
		Experience: ExperienceScore(p.YearsExperience, job.YearsExpMin, job.YearsExpMax),
		RoleTitle:  NeutralScore,
		Logistics:  LocationScore(p.RemotePreference, job.WorkModel),
	}
	return c.Total()
}

// KeywordPreScreen reports whether any persona skill name appears in the
// job title or description, case-insensitive.
func KeywordPreScreen(p *model.Persona, job *model.JobPosting) bool {
	text := strings.ToLower(job.Title + " " + job.Description)
	for _, s := range p.Skills {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name != "" && strings.Contains(text, name) {
			return true
		}
	}
	return false
}

func skillNames(p *model.Persona) []string {
	out := make([]string, 0, len(p.Skills))
	for _, s := range p.Skills {
		out = append(out, s.Name)
	}
	return out
}

func hardSkillsText(p *model.Persona) string {
	return "Skills: " + strings.Join(skillNames(p), ", ")
}

func softSkillsText(p *model.Persona) string {
	var b strings.Builder
	b.WriteString("Target roles: " + strings.Join(p.TargetRoles, ", "))
	for _, story := range p.Stories {
		b.WriteString(". " + story.Title)
	}
	return b.String()
}

func logisticsText(p *model.Persona) string {
	loc := ""
	if p.Location != nil {
		loc = *p.Location
	}
	return fmt.Sprintf("Location: %s. Preference: %s. Commutable: %s",
		loc, p.RemotePreference, strings.Join(p.CommutableCities, ", "))
}

func jobCultureText(job *model.JobPosting) string {
	if job.CultureText != nil && *job.CultureText != "" {
		return *job.CultureText
	}
	desc := job.Description
	if len(desc) > 2000 {
		desc = desc[:2000]
	}
	return desc
}
