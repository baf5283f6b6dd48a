// Package orchestrator drives one poll cycle: parallel adapter fanout,
// merge, pool-membership partitioning, enrichment of new items, dedup
// persistence and poll-schedule bookkeeping.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"jobscout/core-service/internal/dedup"
	"jobscout/core-service/internal/enrich"
	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/pool"
	"jobscout/core-service/internal/source"
)

// ProcessedJob is one posting that made it through the persist step.
type ProcessedJob struct {
	SourceName string
	Title      string
	Company    string
	Action     dedup.Action
	JobID      string
	LinkID     string
}

// PollResult summarises one poll cycle.
type PollResult struct {
	PollID           string
	ProcessedJobs    []ProcessedJob
	NewJobCount      int
	ExistingJobCount int
	ErrorSources     []string
	LastPolledAt     time.Time
	NextPollAt       *time.Time
}

// Orchestrator wires the fetch → enrich → dedup pipeline.
type Orchestrator struct {
	db       *pgxpool.Pool
	registry *source.Registry
	enricher *enrich.Service
	deduper  *dedup.Service
}

// New constructs an Orchestrator.
func New(db *pgxpool.Pool, registry *source.Registry, enricher *enrich.Service, deduper *dedup.Service) *Orchestrator {
	return &Orchestrator{db: db, registry: registry, enricher: enricher, deduper: deduper}
}

// classified is a merged raw job after the membership partition.
type classified struct {
	job      enrich.EnrichedJob
	sourceID string
	existing bool
}

// RunPoll executes one poll cycle for a persona. Source failures and
// single-job save failures never abort the cycle; they only shrink the
// reported counts.
func (o *Orchestrator) RunPoll(
	ctx context.Context,
	personaID, userID string,
	enabledSources []string,
	frequency model.PollFrequency,
	params source.SearchParams,
) (*PollResult, error) {
	startedAt := time.Now().UTC()
	pollID := uuid.NewString()
	log.Printf("[poll] %s starting for persona %s: sources=%v", pollID, personaID, enabledSources)

	merged, errorSources := o.fanout(ctx, enabledSources, params)

	// ── Partition: pool membership, two-tier check ─────────────────────
	repo := pool.NewRepository(o.db)
	sourceIDs := make(map[string]string) // per-call cache
	var jobs []classified

	for _, raw := range merged {
		srcID, ok := sourceIDs[raw.SourceName]
		if !ok {
			var err error
			srcID, err = repo.ResolveSourceID(ctx, raw.SourceName)
			if err != nil {
				return nil, fmt.Errorf("resolve source %q: %w", raw.SourceName, err)
			}
			sourceIDs[raw.SourceName] = srcID
		}

		existing, err := o.isInPool(ctx, repo, srcID, raw)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, classified{
			job:      enrich.EnrichedJob{RawJob: raw},
			sourceID: srcID,
			existing: existing,
		})
	}

	// ── Enrich new only ────────────────────────────────────────────────
	var newRaw []model.RawJob
	for _, c := range jobs {
		if !c.existing {
			newRaw = append(newRaw, c.job.RawJob)
		}
	}
	enriched := o.enricher.EnrichJobs(ctx, userID, newRaw)
	ei := 0
	for i := range jobs {
		if !jobs[i].existing {
			jobs[i].job = enriched[ei]
			ei++
		}
	}

	// ── Persist through the dedup pipeline ─────────────────────────────
	result := &PollResult{PollID: pollID, ErrorSources: errorSources, LastPolledAt: startedAt}
	for _, c := range jobs {
		outcome, err := o.deduper.SaveJob(ctx, toJobData(c, personaID, userID), model.DiscoveryScouter)
		if err != nil {
			log.Printf("[poll] Save failed for %s/%s: %v — continuing",
				c.job.SourceName, c.job.ExternalID, err)
			continue
		}
		processed := ProcessedJob{
			SourceName: c.job.SourceName,
			Title:      c.job.Title,
			Company:    c.job.Company,
			Action:     outcome.Action,
			JobID:      outcome.Job.ID,
		}
		if outcome.Link != nil {
			processed.LinkID = outcome.Link.ID
		}
		result.ProcessedJobs = append(result.ProcessedJobs, processed)
		if c.existing {
			result.ExistingJobCount++
		} else {
			result.NewJobCount++
		}
	}

	// ── Schedule bookkeeping ───────────────────────────────────────────
	result.NextPollAt = NextPollAt(frequency, startedAt)
	if err := o.recordPollSchedule(ctx, personaID, startedAt, result.NextPollAt); err != nil {
		log.Printf("[poll] Schedule update failed for persona %s: %v", personaID, err)
	}

	log.Printf("[poll] %s done for persona %s — new=%d existing=%d errors=%v",
		pollID, personaID, result.NewJobCount, result.ExistingJobCount, result.ErrorSources)
	return result, nil
}

// fanout launches all adapter fetches concurrently with per-adapter error
// capture. Unknown source names are skipped with a warning.
func (o *Orchestrator) fanout(ctx context.Context, enabledSources []string, params source.SearchParams) ([]model.RawJob, []string) {
	type fetchOut struct {
		name string
		jobs []model.RawJob
		err  error
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		mu      sync.Mutex
		outputs []fetchOut
	)

	for _, name := range enabledSources {
		adapter, ok := o.registry.Lookup(name)
		if !ok {
			log.Printf("[poll] Unknown source %q — skipping", name)
			continue
		}
		g.Go(func() error {
			jobs, err := adapter.FetchJobs(gctx, params)
			mu.Lock()
			outputs = append(outputs, fetchOut{name: adapter.Name(), jobs: jobs, err: err})
			mu.Unlock()
			return nil // failures are captured, never propagated
		})
	}
	_ = g.Wait()

	var (
		merged       []model.RawJob
		errorSources []string
	)
	for _, out := range outputs {
		if out.err != nil {
			var se *source.SourceError
			if errors.As(out.err, &se) && se.Retryable {
				log.Printf("[poll] Source %s failed (retryable): %v", out.name, out.err)
			} else {
				log.Printf("[poll] Source %s failed: %v", out.name, out.err)
			}
			errorSources = append(errorSources, out.name)
			continue
		}
		for _, job := range out.jobs {
			job.SourceName = out.name
			merged = append(merged, job)
		}
	}
	return merged, errorSources
}

// isInPool runs the two-tier membership check: external id first, then
// description hash.
func (o *Orchestrator) isInPool(ctx context.Context, repo *pool.Repository, sourceID string, raw model.RawJob) (bool, error) {
	if raw.ExternalID != "" {
		_, err := repo.GetBySourceAndExternalID(ctx, sourceID, raw.ExternalID)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, pool.ErrNotFound) {
			return false, err
		}
	}
	_, err := repo.GetByDescriptionHash(ctx, HashDescription(raw.Description))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pool.ErrNotFound) {
		return false, err
	}
	return false, nil
}

func toJobData(c classified, personaID, userID string) dedup.JobData {
	job := c.job
	data := dedup.JobData{
		SourceID:        c.sourceID,
		Title:           job.Title,
		Company:         job.Company,
		Description:     job.Description,
		DescriptionHash: HashDescription(job.Description),
		FirstSeenDate:   time.Now().UTC(),
		SalaryMin:       job.SalaryMin,
		SalaryMax:       job.SalaryMax,
		RequiredSkills:  job.RequiredSkills,
		PreferredSkills: job.PreferredSkills,
		CultureText:     job.CultureText,
		GhostScore:      job.GhostScore,
		GhostSignals:    job.GhostSignals,
		PersonaID:       &personaID,
		UserID:          &userID,
	}
	if job.PostedDate != nil {
		data.FirstSeenDate = *job.PostedDate
	}
	if job.ExternalID != "" {
		id := job.ExternalID
		data.ExternalID = &id
	}
	if job.SourceURL != "" {
		u := job.SourceURL
		data.SourceURL = &u
	}
	if job.Location != "" {
		l := job.Location
		data.Location = &l
	}
	return data
}

// HashDescription is the canonical SHA-256 description hash used across
// the dedup pipeline.
func HashDescription(description string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(description)))
	return hex.EncodeToString(sum[:])
}

// NextPollAt computes the next poll timestamp for a frequency. Manual-only
// personas keep their schedule unchanged (nil).
func NextPollAt(frequency model.PollFrequency, from time.Time) *time.Time {
	var next time.Time
	switch frequency {
	case model.PollDaily:
		next = from.Add(24 * time.Hour)
	case model.PollTwiceDaily:
		next = from.Add(12 * time.Hour)
	case model.PollWeekly:
		next = from.Add(7 * 24 * time.Hour)
	default:
		return nil
	}
	return &next
}

func (o *Orchestrator) recordPollSchedule(ctx context.Context, personaID string, polledAt time.Time, nextPollAt *time.Time) error {
	_, err := o.db.Exec(ctx,
		`UPDATE personas
		 SET last_polled_at = $2,
		     next_poll_at = COALESCE($3, next_poll_at),
		     updated_at = NOW()
		 WHERE id = $1`,
		personaID, polledAt, nextPollAt)
	return err
}
