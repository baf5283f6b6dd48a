package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/pool"
)

// Action is the dedup decision for one incoming posting.
type Action string

const (
	ActionUpdateExisting   Action = "update_existing"
	ActionAddToAlsoFoundOn Action = "add_to_also_found_on"
	ActionCreateRepost     Action = "create_linked_repost"
	ActionCreateNew        Action = "create_new"
)

// JobData is a normalised incoming posting. SourceID, Title, Company,
// Description, DescriptionHash and FirstSeenDate are required; the rest is
// optional. PersonaID/UserID drive post-dedup link creation.
type JobData struct {
	SourceID        string
	Title           string
	Company         string
	Description     string
	DescriptionHash string
	FirstSeenDate   time.Time

	ExternalID *string
	SourceURL  *string
	Location   *string
	WorkModel  model.WorkModel
	SalaryMin  *float64
	SalaryMax  *float64

	RequiredSkills  []string
	PreferredSkills []string
	CultureText     *string
	GhostScore      *float64
	GhostSignals    *model.GhostSignals

	PersonaID *string
	// UserID scopes link creation: when set, the persona must belong to
	// this user. System-level callers pass nil.
	UserID *string
}

// Outcome is the tagged result of SaveJob.
type Outcome struct {
	Action       Action
	Confidence   Confidence
	Job          *model.JobPosting
	Link         *model.PersonaJob
	MatchedJobID string
}

// ErrPersonaNotOwned is returned when UserID is set but the persona does
// not belong to that user.
var ErrPersonaNotOwned = errors.New("persona does not belong to user")

// Service runs the match-and-persist pipeline.
type Service struct {
	db *pgxpool.Pool
}

// NewService constructs a Service.
func NewService(db *pgxpool.Pool) *Service { return &Service{db: db} }

// SaveJob runs the 4-step match procedure and persists the result, then
// creates (or returns) the persona_jobs link when a persona is supplied.
// The whole operation runs in one transaction; racy inserts recover via
// savepoint rollback so the outer transaction stays valid.
func (s *Service) SaveJob(ctx context.Context, data JobData, method model.DiscoveryMethod) (*Outcome, error) {
	if data.SourceID == "" || data.Title == "" || data.Company == "" ||
		data.Description == "" || data.DescriptionHash == "" {
		return nil, fmt.Errorf("dedup: job data missing required fields")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	outcome, err := s.matchAndPersist(ctx, tx, data)
	if err != nil {
		return nil, err
	}

	if data.PersonaID != nil {
		link, err := s.ensureLink(ctx, tx, *data.PersonaID, data.UserID, outcome.Job.ID, method)
		if err != nil {
			return nil, err
		}
		outcome.Link = link
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return outcome, nil
}

func (s *Service) matchAndPersist(ctx context.Context, tx pgx.Tx, data JobData) (*Outcome, error) {
	repo := pool.NewRepository(tx)

	// ── Step 1: source match — update the existing row ─────────────────
	if data.ExternalID != nil && *data.ExternalID != "" {
		existing, err := repo.GetBySourceAndExternalID(ctx, data.SourceID, *data.ExternalID)
		if err == nil {
			updated, err := s.applySourceUpdate(ctx, repo, existing, data)
			if err != nil {
				return nil, err
			}
			return &Outcome{
				Action:       ActionUpdateExisting,
				Confidence:   ConfidenceHigh,
				Job:          updated,
				MatchedJobID: existing.ID,
			}, nil
		}
		if !errors.Is(err, pool.ErrNotFound) {
			return nil, err
		}
	}

	// ── Step 2: hash match — record the extra source ───────────────────
	hashMatch, err := repo.GetByDescriptionHash(ctx, data.DescriptionHash)
	if err == nil {
		merged, err := s.mergeAlsoFoundOn(ctx, repo, hashMatch, data)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Action:       ActionAddToAlsoFoundOn,
			Confidence:   ConfidenceHigh,
			Job:          merged,
			MatchedJobID: hashMatch.ID,
		}, nil
	}
	if !errors.Is(err, pool.ErrNotFound) {
		return nil, err
	}

	// ── Step 3: similarity match — link as repost ──────────────────────
	matched, confidence, err := s.findRepostMatch(ctx, repo, data)
	if err != nil {
		return nil, err
	}
	if matched != nil {
		job, raceOutcome, err := s.createWithRecovery(ctx, tx, data, matched)
		if err != nil {
			return nil, err
		}
		if raceOutcome != nil {
			return raceOutcome, nil
		}
		return &Outcome{
			Action:       ActionCreateRepost,
			Confidence:   confidence,
			Job:          job,
			MatchedJobID: matched.ID,
		}, nil
	}

	// ── Step 4: no match — create new ──────────────────────────────────
	job, raceOutcome, err := s.createWithRecovery(ctx, tx, data, nil)
	if err != nil {
		return nil, err
	}
	if raceOutcome != nil {
		return raceOutcome, nil
	}
	return &Outcome{Action: ActionCreateNew, Confidence: ConfidenceHigh, Job: job}, nil
}

// applySourceUpdate writes the whitelisted source-update fields onto an
// existing row. first_seen_date, created_at and id are untouched.
func (s *Service) applySourceUpdate(ctx context.Context, repo *pool.Repository, existing *model.JobPosting, data JobData) (*model.JobPosting, error) {
	fields := map[string]any{
		"title":            data.Title,
		"description":      data.Description,
		"description_hash": data.DescriptionHash,
		"last_verified_at": time.Now().UTC(),
	}
	if data.SourceURL != nil {
		fields["source_url"] = *data.SourceURL
	}
	if data.Location != nil {
		fields["location"] = *data.Location
	}
	if data.SalaryMin != nil {
		fields["salary_min"] = *data.SalaryMin
	}
	if data.SalaryMax != nil {
		fields["salary_max"] = *data.SalaryMax
	}
	if data.WorkModel != "" && data.WorkModel != model.WorkUnknown {
		fields["work_model"] = data.WorkModel
	}
	return repo.Update(ctx, existing.ID, fields)
}

// MergeSources returns a NEW also_found_on value with the incoming source
// appended, deduplicating by source id. A fresh slice matters: JSONB
// change detection in the store tracks cell replacement, not mutation.
func MergeSources(current model.AlsoFoundOn, entry model.AlsoFoundOnEntry) (model.AlsoFoundOn, bool) {
	for _, e := range current.Sources {
		if e.SourceID == entry.SourceID {
			copied := make([]model.AlsoFoundOnEntry, len(current.Sources))
			copy(copied, current.Sources)
			return model.AlsoFoundOn{Sources: copied}, false
		}
	}
	merged := make([]model.AlsoFoundOnEntry, 0, len(current.Sources)+1)
	merged = append(merged, current.Sources...)
	merged = append(merged, entry)
	return model.AlsoFoundOn{Sources: merged}, true
}

func (s *Service) mergeAlsoFoundOn(ctx context.Context, repo *pool.Repository, match *model.JobPosting, data JobData) (*model.JobPosting, error) {
	if match.SourceID == data.SourceID {
		// Same source, no external-id match: nothing to record beyond a
		// freshness stamp.
		return repo.Update(ctx, match.ID, map[string]any{"last_verified_at": time.Now().UTC()})
	}

	entry := model.AlsoFoundOnEntry{SourceID: data.SourceID, FoundAt: time.Now().UTC()}
	if data.ExternalID != nil {
		entry.ExternalID = *data.ExternalID
	}
	if data.SourceURL != nil {
		entry.SourceURL = *data.SourceURL
	}

	merged, changed := MergeSources(match.AlsoFoundOn, entry)
	if !changed {
		return match, nil
	}
	return repo.Update(ctx, match.ID, map[string]any{"also_found_on": merged})
}

// findRepostMatch scans same-company candidates for a similar posting.
// A ratio above HighThreshold wins immediately; otherwise the best
// tentative candidate above MediumThreshold is selected at the end.
func (s *Service) findRepostMatch(ctx context.Context, repo *pool.Repository, data JobData) (*model.JobPosting, Confidence, error) {
	candidates, err := repo.GetByCompanyForSimilarity(ctx, data.Company)
	if err != nil {
		return nil, "", err
	}

	var (
		best      *model.JobPosting
		bestRatio float64
	)
	for _, cand := range candidates {
		if !TitlesSimilar(data.Title, cand.Title) {
			continue
		}
		ratio := DescriptionRatio(data.Description, cand.Description)
		if ratio > HighThreshold {
			return cand, ConfidenceHigh, nil
		}
		if ratio > MediumThreshold && ratio > bestRatio {
			best, bestRatio = cand, ratio
		}
	}
	if best != nil {
		return best, ConfidenceMedium, nil
	}
	return nil, "", nil
}

// createWithRecovery inserts a new pool row inside a savepoint. On a
// uniqueness violation the savepoint is rolled back, the dedup keys are
// re-queried, and the concurrent winner is returned as a race outcome.
func (s *Service) createWithRecovery(ctx context.Context, tx pgx.Tx, data JobData, repost *model.JobPosting) (*model.JobPosting, *Outcome, error) {
	params := pool.CreateParams{
		SourceID:         data.SourceID,
		Title:            data.Title,
		CompanyName:      data.Company,
		Description:      data.Description,
		DescriptionHash:  data.DescriptionHash,
		FirstSeenDate:    data.FirstSeenDate,
		ExternalID:       data.ExternalID,
		SourceURL:        data.SourceURL,
		Location:         data.Location,
		WorkModel:        data.WorkModel,
		SalaryMin:        data.SalaryMin,
		SalaryMax:        data.SalaryMax,
		RequiredSkills:   data.RequiredSkills,
		PreferredSkills:  data.PreferredSkills,
		CultureText:      data.CultureText,
		GhostScore:       data.GhostScore,
		GhostSignals:     data.GhostSignals,
	}
	if repost != nil {
		// The repost is a new row; the matched row is left untouched.
		params.RepostCount = repost.RepostCount + 1
		params.PreviousPostingIDs = append([]string{repost.ID}, repost.PreviousPostingIDs...)
	}

	sp, err := tx.Begin(ctx) // savepoint
	if err != nil {
		return nil, nil, fmt.Errorf("savepoint: %w", err)
	}
	job, err := pool.NewRepository(sp).Create(ctx, params)
	if err == nil {
		if err := sp.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("release savepoint: %w", err)
		}
		return job, nil, nil
	}
	if !pool.UniqueViolation(err) {
		_ = sp.Rollback(ctx)
		return nil, nil, err
	}

	// Lost the race: roll back to the savepoint and return the winner.
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return nil, nil, fmt.Errorf("rollback savepoint: %w", rbErr)
	}
	slog.Info("dedup insert race recovered", "company", data.Company, "hash", data.DescriptionHash)

	repo := pool.NewRepository(tx)
	if data.ExternalID != nil && *data.ExternalID != "" {
		if winner, err := repo.GetBySourceAndExternalID(ctx, data.SourceID, *data.ExternalID); err == nil {
			updated, err := s.applySourceUpdate(ctx, repo, winner, data)
			if err != nil {
				return nil, nil, err
			}
			return nil, &Outcome{
				Action: ActionUpdateExisting, Confidence: ConfidenceHigh,
				Job: updated, MatchedJobID: winner.ID,
			}, nil
		} else if !errors.Is(err, pool.ErrNotFound) {
			return nil, nil, err
		}
	}
	winner, err := repo.GetByDescriptionHash(ctx, data.DescriptionHash)
	if err != nil {
		return nil, nil, fmt.Errorf("re-query after unique violation: %w", err)
	}
	merged, err := s.mergeAlsoFoundOn(ctx, repo, winner, data)
	if err != nil {
		return nil, nil, err
	}
	return nil, &Outcome{
		Action: ActionAddToAlsoFoundOn, Confidence: ConfidenceHigh,
		Job: merged, MatchedJobID: winner.ID,
	}, nil
}

// ensureLink creates the persona_jobs link, verifying persona ownership
// when a user id is supplied, with savepoint recovery on the
// (persona, job) uniqueness constraint.
func (s *Service) ensureLink(ctx context.Context, tx pgx.Tx, personaID string, userID *string, jobID string, method model.DiscoveryMethod) (*model.PersonaJob, error) {
	links := pool.NewLinkRepository(tx)

	if userID != nil {
		owned, err := links.PersonaOwnedBy(ctx, personaID, *userID)
		if err != nil {
			return nil, err
		}
		if !owned {
			return nil, ErrPersonaNotOwned
		}
	}

	if existing, err := links.GetByPersonaAndJob(ctx, personaID, jobID); err == nil {
		return existing, nil
	} else if !errors.Is(err, pool.ErrNotFound) {
		return nil, err
	}

	sp, err := tx.Begin(ctx) // savepoint
	if err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}
	link, err := pool.NewLinkRepository(sp).Create(ctx, personaID, jobID, method)
	if err == nil {
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		return link, nil
	}
	if !pool.UniqueViolation(err) {
		_ = sp.Rollback(ctx)
		return nil, err
	}
	if rbErr := sp.Rollback(ctx); rbErr != nil {
		return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
	}
	// Concurrent creator won; converge on its row.
	return links.GetByPersonaAndJob(ctx, personaID, jobID)
}
