// Package surfacing runs the periodic pool-surfacing worker: it matches
// recently pooled jobs against eligible personas with the lightweight
// scorer and creates pool-discovered links.
package surfacing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/persona"
	"jobscout/core-service/internal/pool"
	"jobscout/core-service/internal/scoring"
)

// Per-pass bounds. Surfacing is at-least-once; anything missed in one pass
// is picked up by the next because `since` only advances on completion.
const (
	maxCandidateJobs    = 50
	maxEligiblePersonas = 500
	maxPersonasPerJob   = 100

	initialLookback = 24 * time.Hour
)

// surfacedChannel is the redis channel link-creation events publish to.
const surfacedChannel = "jobs:surfaced"

// PassStats summarises one surfacing pass.
type PassStats struct {
	JobsProcessed         int `json:"jobs_processed"`
	LinksCreated          int `json:"links_created"`
	LinksSkippedThreshold int `json:"links_skipped_threshold"`
	LinksSkippedExisting  int `json:"links_skipped_existing"`
}

// Worker is the surfacing loop.
type Worker struct {
	cron     *cron.Cron
	db       *pgxpool.Pool
	rdb      *redis.Client
	personas *persona.Repository
	jobs     *pool.Repository
	links    *pool.LinkRepository
	spec     string

	mu        sync.Mutex
	lastStart time.Time // start of the last completed pass
}

// NewWorker creates a Worker that fires every intervalMinutes minutes.
func NewWorker(db *pgxpool.Pool, rdb *redis.Client, intervalMinutes int) *Worker {
	return &Worker{
		cron:     cron.New(cron.WithLogger(cron.DefaultLogger)),
		db:       db,
		rdb:      rdb,
		personas: persona.NewRepository(db),
		jobs:     pool.NewRepository(db),
		links:    pool.NewLinkRepository(db),
		spec:     fmt.Sprintf("@every %dm", intervalMinutes),
	}
}

// Start registers the job and starts the scheduler. Also runs one pass
// immediately so fresh pool rows surface without waiting for the first
// tick.
func (w *Worker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.spec, func() {
		if _, err := w.RunPass(ctx); err != nil {
			log.Printf("[surfacing] Pass failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	w.cron.Start()
	log.Printf("[surfacing] Cron started — spec: %s", w.spec)

	go func() {
		if _, err := w.RunPass(ctx); err != nil {
			log.Printf("[surfacing] Initial pass failed: %v", err)
		}
	}()
	return nil
}

// Stop shuts down the scheduler and waits for an in-flight pass to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	log.Println("[surfacing] Cron stopped")
}

// RunPass executes one surfacing pass.
func (w *Worker) RunPass(ctx context.Context) (*PassStats, error) {
	passStart := time.Now().UTC()

	w.mu.Lock()
	since := w.lastStart
	w.mu.Unlock()
	if since.IsZero() {
		since = passStart.Add(-initialLookback)
	}

	released, err := w.jobs.ReleaseExpiredQuarantines(ctx, passStart)
	if err != nil {
		return nil, fmt.Errorf("release quarantines: %w", err)
	}
	if released > 0 {
		log.Printf("[surfacing] Released %d expired quarantine(s)", released)
	}

	candidates, err := w.jobs.RecentActive(ctx, since, maxCandidateJobs)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	if len(candidates) == 0 {
		log.Println("[surfacing] No new pool rows — nothing to surface")
		w.completePass(passStart)
		return &PassStats{}, nil
	}

	personas, err := w.personas.EligibleForSurfacing(ctx, maxEligiblePersonas)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	stats := &PassStats{}
	for _, job := range candidates {
		if err := w.surfaceJob(ctx, job, personas, stats); err != nil {
			log.Printf("[surfacing] Job %s failed: %v — continuing", job.ID, err)
			continue
		}
		stats.JobsProcessed++
	}

	w.completePass(passStart)
	log.Printf("[surfacing] Pass complete — jobs=%d created=%d below_threshold=%d existing=%d",
		stats.JobsProcessed, stats.LinksCreated, stats.LinksSkippedThreshold, stats.LinksSkippedExisting)
	return stats, nil
}

func (w *Worker) completePass(start time.Time) {
	w.mu.Lock()
	w.lastStart = start
	w.mu.Unlock()
}

func (w *Worker) surfaceJob(ctx context.Context, job *model.JobPosting, personas []*model.Persona, stats *PassStats) error {
	linked, err := w.links.LinkedPersonaIDs(ctx, job.ID)
	if err != nil {
		return err
	}

	evaluated := 0
	for _, p := range personas {
		if evaluated >= maxPersonasPerJob {
			break
		}
		if linked[p.ID] {
			stats.LinksSkippedExisting++
			continue
		}
		evaluated++

		if !scoring.KeywordPreScreen(p, job) {
			continue
		}

		fit := scoring.LightweightFit(p, job)
		if fit < p.MinimumFitThreshold {
			stats.LinksSkippedThreshold++
			continue
		}

		created, err := w.createLink(ctx, p.ID, job.ID, fit)
		if err != nil {
			return err
		}
		if !created {
			stats.LinksSkippedExisting++
			continue
		}
		stats.LinksCreated++
		w.publishSurfaced(ctx, p.ID, job.ID, fit)
	}
	return nil
}

// createLink inserts the pool-discovered link idempotently: a concurrent
// scouter poll or a previous at-least-once pass may have linked already.
func (w *Worker) createLink(ctx context.Context, personaID, jobID string, fit float64) (bool, error) {
	var id string
	err := w.db.QueryRow(ctx,
		`INSERT INTO persona_jobs
		   (persona_id, job_posting_id, discovery_method, status, fit_score, scored_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (persona_id, job_posting_id) DO NOTHING
		 RETURNING id`,
		personaID, jobID, model.DiscoveryPool, model.LinkDiscovered, fit).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// publishSurfaced emits the surfaced event. Redis being down never fails a
// pass.
func (w *Worker) publishSurfaced(ctx context.Context, personaID, jobID string, fit float64) {
	if w.rdb == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"persona_id": personaID,
		"job_id":     jobID,
		"fit_score":  fit,
		"surfaced_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := w.rdb.Publish(ctx, surfacedChannel, payload).Err(); err != nil {
		log.Printf("[surfacing] Redis publish failed: %v", err)
	}
}
