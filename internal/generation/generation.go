// Package generation implements the content-generation pipeline: tailoring
// evaluation, conditional resume variants, achievement-story selection and
// cover-letter drafting.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobscout/core-service/internal/llm"
	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/persona"
	"jobscout/core-service/internal/pool"
)

// TaskCoverLetter routes cover-letter generation through the registry.
const TaskCoverLetter = "cover_letter"

// Generation triggers.
const (
	TriggerManual    = "manual"
	TriggerAutoDraft = "auto_draft"
)

// Tailoring actions.
const (
	ActionUseBase       = "use_base"
	ActionCreateVariant = "create_variant"
)

// Variant statuses.
const (
	VariantDraft    = "DRAFT"
	VariantApproved = "APPROVED"
	VariantArchived = "ARCHIVED"
)

// maxStories is the number of achievement stories fed to the letter.
const maxStories = 3

// tailoring signal thresholds.
const (
	lowOverlapThreshold = 0.5
	lowTitleOverlap     = 30.0
)

// ErrNoBaseResume is returned when the persona has no primary resume.
var ErrNoBaseResume = errors.New("generation: persona has no primary base resume")

// Result is the full outcome of one generation run.
type Result struct {
	CoverLetterID      string
	CoverLetterContent string
	TailoringAction    string
	TailoringReasoning string
	VariantID          string
	SelectedStoryIDs   []string
	AgentReasoning     string
	ReviewWarning      string
	DuplicateMessage   string
	JobActive          bool
}

// Completer is the metered chat surface the generator needs.
type Completer interface {
	Complete(ctx context.Context, userID string, req llm.CompletionRequest) (*llm.LLMResponse, error)
}

// Service runs the generation pipeline.
type Service struct {
	db       *pgxpool.Pool
	personas *persona.Repository
	jobs     *pool.Repository
	llm      Completer
}

// NewService constructs a Service.
func NewService(db *pgxpool.Pool, llmClient Completer) *Service {
	return &Service{
		db:       db,
		personas: persona.NewRepository(db),
		jobs:     pool.NewRepository(db),
		llm:      llmClient,
	}
}

// Generate runs the pipeline for (persona, job). trigger is manual or
// auto_draft; it only affects logging.
func (s *Service) Generate(ctx context.Context, userID, personaID, jobID, trigger string) (*Result, error) {
	p, err := s.personas.GetOwned(ctx, personaID, userID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log.Printf("[generation] %s draft for persona %s job %s", trigger, personaID, jobID)

	result := &Result{JobActive: job.IsActive}

	// Step 1: duplicate check — an in-flight or approved variant stops
	// everything before any tokens are spent.
	if msg, blocked, err := s.duplicateMessage(ctx, personaID, jobID); err != nil {
		return nil, err
	} else if blocked {
		result.DuplicateMessage = msg
		return result, nil
	}

	// Step 2: base resume.
	resumeID, summary, err := s.primaryResume(ctx, personaID)
	if err != nil {
		return nil, err
	}

	// Step 3: tailoring evaluation.
	decision := EvaluateTailoring(p, job, summary)
	result.TailoringAction = decision.Action
	result.TailoringReasoning = decision.Reasoning

	// Step 4: conditional variant.
	if decision.Action == ActionCreateVariant {
		variantID, err := s.createVariant(ctx, resumeID, personaID, jobID, decision)
		if err != nil {
			return nil, err
		}
		result.VariantID = variantID
	}

	// Step 5: story selection.
	stories := SelectStories(p.Stories, job, maxStories)
	for _, st := range stories {
		result.SelectedStoryIDs = append(result.SelectedStoryIDs, st.ID)
	}

	// Step 6: cover letter.
	content, err := s.draftLetter(ctx, userID, p, job, stories)
	if err != nil {
		return nil, err
	}
	result.CoverLetterContent = content

	letterID, err := s.saveLetter(ctx, personaID, jobID, content)
	if err != nil {
		return nil, err
	}
	result.CoverLetterID = letterID

	// Step 7: freshness.
	if !job.IsActive {
		result.ReviewWarning = "This posting is no longer active in the pool; review before submitting."
	}

	// Step 8: aggregated reasoning.
	result.AgentReasoning = buildReasoning(decision, stories)
	return result, nil
}

func (s *Service) duplicateMessage(ctx context.Context, personaID, jobID string) (string, bool, error) {
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT status FROM job_variants
		 WHERE persona_id = $1 AND job_posting_id = $2 AND status IN ($3, $4)
		 ORDER BY created_at DESC LIMIT 1`,
		personaID, jobID, VariantDraft, VariantApproved).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	switch status {
	case VariantApproved:
		return "A variant for this job is already approved; editing is blocked.", true, nil
	default:
		return "A draft for this job is already in progress.", true, nil
	}
}

func (s *Service) primaryResume(ctx context.Context, personaID string) (id, summary string, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT id, summary FROM base_resumes
		 WHERE persona_id = $1
		 ORDER BY is_primary DESC, created_at DESC
		 LIMIT 1`, personaID).Scan(&id, &summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNoBaseResume
	}
	return id, summary, err
}

// TailoringDecision is the structured output of the evaluation step.
type TailoringDecision struct {
	Action          string
	Reasoning       string
	MissingKeywords []string
	TitleOverlap    float64
	ModifiedSummary string
	BulletOrder     []string
}

// EvaluateTailoring decides between use_base and create_variant from
// deterministic signals: keywords the resume is missing and role-title
// divergence.
func EvaluateTailoring(p *model.Persona, job *model.JobPosting, resumeSummary string) TailoringDecision {
	lower := strings.ToLower(resumeSummary)
	var missing []string
	for _, skill := range job.RequiredSkills {
		if skill != "" && !strings.Contains(lower, strings.ToLower(skill)) {
			missing = append(missing, skill)
		}
	}

	titleOverlap := 0.0
	for _, role := range p.TargetRoles {
		if o := tokenOverlap(role, job.Title); o > titleOverlap {
			titleOverlap = o
		}
	}

	needsVariant := false
	var reasons []string
	if len(job.RequiredSkills) > 0 &&
		float64(len(missing))/float64(len(job.RequiredSkills)) > lowOverlapThreshold {
		needsVariant = true
		reasons = append(reasons, fmt.Sprintf("resume is missing %d of %d required skills (%s)",
			len(missing), len(job.RequiredSkills), strings.Join(missing, ", ")))
	}
	if len(p.TargetRoles) > 0 && titleOverlap < lowTitleOverlap {
		needsVariant = true
		reasons = append(reasons, fmt.Sprintf("job title %q diverges from your target roles", job.Title))
	}

	if !needsVariant {
		return TailoringDecision{
			Action:       ActionUseBase,
			Reasoning:    "Your base resume already covers this role's requirements.",
			TitleOverlap: titleOverlap,
		}
	}

	// Bullet order: required skills first, preferred after, so the most
	// relevant evidence leads.
	order := append(append([]string{}, job.RequiredSkills...), job.PreferredSkills...)
	return TailoringDecision{
		Action:          ActionCreateVariant,
		Reasoning:       strings.Join(reasons, "; "),
		MissingKeywords: missing,
		TitleOverlap:    titleOverlap,
		ModifiedSummary: tailoredSummary(resumeSummary, job),
		BulletOrder:     order,
	}
}

func tailoredSummary(base string, job *model.JobPosting) string {
	lead := fmt.Sprintf("Targeting %s at %s. ", job.Title, job.CompanyName)
	return lead + base
}

func tokenOverlap(a, b string) float64 {
	ta := fieldsSet(a)
	tb := fieldsSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	common := 0
	for tok := range ta {
		if tb[tok] {
			common++
		}
	}
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	return 100 * float64(common) / float64(smaller)
}

func fieldsSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(tok, ".,()/-")] = true
	}
	return out
}

func (s *Service) createVariant(ctx context.Context, resumeID, personaID, jobID string, d TailoringDecision) (string, error) {
	order, err := json.Marshal(d.BulletOrder)
	if err != nil {
		return "", err
	}
	// Snapshot fields stay null until the user approves the variant.
	var id string
	err = s.db.QueryRow(ctx,
		`INSERT INTO job_variants
		   (base_resume_id, persona_id, job_posting_id, status, modified_summary, job_bullet_order)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		resumeID, personaID, jobID, VariantDraft, d.ModifiedSummary, order).Scan(&id)
	return id, err
}

// SelectStories ranks achievement stories by skill-tag overlap with the
// job's extracted skills and returns the top k.
func SelectStories(stories []model.AchievementStory, job *model.JobPosting, k int) []model.AchievementStory {
	jobSkills := make(map[string]bool)
	for _, s := range job.RequiredSkills {
		jobSkills[strings.ToLower(s)] = true
	}
	for _, s := range job.PreferredSkills {
		jobSkills[strings.ToLower(s)] = true
	}

	type ranked struct {
		story model.AchievementStory
		hits  int
	}
	var rs []ranked
	for _, st := range stories {
		hits := 0
		for _, tag := range st.SkillTags {
			if jobSkills[strings.ToLower(tag)] {
				hits++
			}
		}
		rs = append(rs, ranked{story: st, hits: hits})
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].hits > rs[j].hits })

	if k > len(rs) {
		k = len(rs)
	}
	out := make([]model.AchievementStory, 0, k)
	for _, r := range rs[:k] {
		out = append(out, r.story)
	}
	return out
}

func (s *Service) draftLetter(ctx context.Context, userID string, p *model.Persona, job *model.JobPosting, stories []model.AchievementStory) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Candidate: %s\nJob: %s at %s\n", p.FullName, job.Title, job.CompanyName)
	if p.Voice != nil {
		fmt.Fprintf(&sb, "Voice: tone %s, formality %s. %s\n", p.Voice.Tone, p.Voice.Formality, p.Voice.Notes)
	}
	for i, st := range stories {
		fmt.Fprintf(&sb, "Story %d — %s: %s %s Result: %s\n", i+1, st.Title, st.Situation, st.Action, st.Result)
	}
	desc := job.Description
	if len(desc) > 4000 {
		desc = desc[:4000]
	}
	sb.WriteString("Job description:\n" + desc)

	resp, err := s.llm.Complete(ctx, userID, llm.CompletionRequest{
		Task:      TaskCoverLetter,
		MaxTokens: 800,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You write cover letters in the candidate's voice. " +
				"Between 200 and 350 words. Weave the provided stories in naturally; never invent facts."},
			{Role: llm.RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Service) saveLetter(ctx context.Context, personaID, jobID, content string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`INSERT INTO cover_letters (persona_id, job_posting_id, content, status)
		 VALUES ($1, $2, $3, 'DRAFT')
		 RETURNING id`,
		personaID, jobID, content).Scan(&id)
	return id, err
}

func buildReasoning(d TailoringDecision, stories []model.AchievementStory) string {
	var parts []string
	if d.Action == ActionCreateVariant {
		parts = append(parts, "Created a tailored resume variant: "+d.Reasoning+".")
	} else {
		parts = append(parts, "Kept your base resume: "+strings.TrimSuffix(d.Reasoning, ".")+".")
	}
	if len(stories) > 0 {
		var titles []string
		for _, st := range stories {
			titles = append(titles, st.Title)
		}
		parts = append(parts, "Selected stories: "+strings.Join(titles, "; ")+".")
	}
	return strings.Join(parts, " ")
}
