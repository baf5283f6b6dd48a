// Package cleanup runs the daily retention pass over derived and archived
// data. Favorited links are never deleted.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"jobscout/core-service/internal/model"
)

// Retention windows.
const (
	orphanPDFAge     = 7 * 24 * time.Hour
	resolvedFlagAge  = 30 * 24 * time.Hour
	archivedAge      = 180 * 24 * time.Hour
	closedLinkAge    = 180 * 24 * time.Hour
)

// Worker is the retention loop.
type Worker struct {
	cron *cron.Cron
	db   *pgxpool.Pool
}

// NewWorker creates a daily retention worker.
func NewWorker(db *pgxpool.Pool) *Worker {
	return &Worker{
		cron: cron.New(cron.WithLogger(cron.DefaultLogger)),
		db:   db,
	}
}

// Start schedules the daily pass.
func (w *Worker) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc("@daily", func() {
		if err := w.RunPass(ctx); err != nil {
			log.Printf("[cleanup] Pass failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	w.cron.Start()
	log.Println("[cleanup] Cron started — spec: @daily")
	return nil
}

// Stop shuts down the scheduler and waits for an in-flight pass to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	log.Println("[cleanup] Cron stopped")
}

// RunPass executes one retention pass. Each deletion is independent; a
// failure in one category does not stop the rest.
func (w *Worker) RunPass(ctx context.Context) error {
	now := time.Now().UTC()
	log.Println("[cleanup] Retention pass started")

	steps := []struct {
		name  string
		query string
		args  []any
	}{
		{
			name: "orphan PDFs",
			query: `DELETE FROM submitted_pdfs
			        WHERE application_id IS NULL AND created_at < $1`,
			args: []any{now.Add(-orphanPDFAge)},
		},
		{
			name: "resolved change flags",
			query: `DELETE FROM change_flags
			        WHERE resolved_at IS NOT NULL AND resolved_at < $1`,
			args: []any{now.Add(-resolvedFlagAge)},
		},
		{
			name: "archived variants",
			query: `DELETE FROM job_variants
			        WHERE status = 'ARCHIVED' AND archived_at < $1`,
			args: []any{now.Add(-archivedAge)},
		},
		{
			name: "archived cover letters",
			query: `DELETE FROM cover_letters
			        WHERE status = 'ARCHIVED' AND archived_at < $1`,
			args: []any{now.Add(-archivedAge)},
		},
		{
			name: "closed links",
			query: `DELETE FROM persona_jobs
			        WHERE status IN ($1, $2)
			          AND NOT is_favorite
			          AND updated_at < $3`,
			args: []any{model.LinkExpired, model.LinkDismissed, now.Add(-closedLinkAge)},
		},
	}

	var firstErr error
	for _, step := range steps {
		tag, err := w.db.Exec(ctx, step.query, step.args...)
		if err != nil {
			log.Printf("[cleanup] %s failed: %v", step.name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup %s: %w", step.name, err)
			}
			continue
		}
		if tag.RowsAffected() > 0 {
			log.Printf("[cleanup] Removed %d %s", tag.RowsAffected(), step.name)
		}
	}

	log.Println("[cleanup] Retention pass complete")
	return firstErr
}
