// jobscout-core-service
//
// Multi-tenant job-discovery core: global dedup pool, poll orchestration,
// pool surfacing, scoring/generation pipelines and the metered model
// proxy. Background workers run on cron; a minimal HTTP surface exposes
// health.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobscout/core-service/internal/cleanup"
	"jobscout/core-service/internal/config"
	"jobscout/core-service/internal/db"
	"jobscout/core-service/internal/dedup"
	"jobscout/core-service/internal/enrich"
	"jobscout/core-service/internal/llm"
	"jobscout/core-service/internal/metering"
	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/orchestrator"
	"jobscout/core-service/internal/persona"
	"jobscout/core-service/internal/registry"
	"jobscout/core-service/internal/source"
	"jobscout/core-service/internal/surfacing"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[core-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Migrations ───────────────────────────────────────────────────────────
	log.Println("[core-service] Running migrations…")
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("[core-service] Migrate: %v", err)
	}

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[core-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[core-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[core-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[core-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[core-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[core-service] Redis connected ✓")

	// ── Providers and metering ───────────────────────────────────────────────
	reg := registry.NewService(pool, cfg.AdminEmails)
	provider := llm.NewOpenAIProvider(cfg.LLMAPIKey, cfg.LLMBaseURL)
	embedder := llm.NewOpenAIEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
	proxy := metering.NewProxy(pool, reg, provider, embedder)

	// ── Ingestion pipeline ───────────────────────────────────────────────────
	sources := source.NewRegistry(
		source.NewAdzunaAdapter(cfg.AdzunaAppID, cfg.AdzunaAppKey, cfg.AdzunaCountry),
		source.NewRemoteOKAdapter(),
	)
	enricher := enrich.NewService(proxy)
	deduper := dedup.NewService(pool)
	orch := orchestrator.New(pool, sources, enricher, deduper)

	// ── Background workers ───────────────────────────────────────────────────
	surfacer := surfacing.NewWorker(pool, rdb, cfg.SurfaceIntervalMinutes)
	if err := surfacer.Start(ctx); err != nil {
		log.Fatalf("[core-service] Surfacing worker: %v", err)
	}
	defer surfacer.Stop()

	retention := cleanup.NewWorker(pool)
	if err := retention.Start(ctx); err != nil {
		log.Fatalf("[core-service] Cleanup worker: %v", err)
	}
	defer retention.Stop()

	poller := newPollLoop(orch, persona.NewRepository(pool), sources, cfg.PollBudgetMinutes)
	go poller.run(ctx)

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[core-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[core-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[core-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[core-service] Shutdown error: %v", err)
	}
	log.Println("[core-service] Stopped.")
}

// pollLoop drives scheduled polls: every few minutes it picks the personas
// whose next_poll_at is due and runs one budgeted poll cycle each.
type pollLoop struct {
	orch     *orchestrator.Orchestrator
	personas *persona.Repository
	sources  *source.Registry
	budget   time.Duration
}

func newPollLoop(orch *orchestrator.Orchestrator, personas *persona.Repository, sources *source.Registry, budgetMinutes int) *pollLoop {
	return &pollLoop{
		orch:     orch,
		personas: personas,
		sources:  sources,
		budget:   time.Duration(budgetMinutes) * time.Minute,
	}
}

func (l *pollLoop) run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *pollLoop) tick(ctx context.Context) {
	due, err := l.personas.DueForPoll(ctx, time.Now().UTC(), 20)
	if err != nil {
		log.Printf("[core-service] Due-poll query failed: %v", err)
		return
	}
	for _, p := range due {
		pollCtx, cancel := context.WithTimeout(ctx, l.budget)
		_, err := l.orch.RunPoll(pollCtx, p.ID, p.UserID, l.sources.Names(), p.PollFrequency, searchParamsFor(p))
		cancel()
		if err != nil {
			log.Printf("[core-service] Poll failed for persona %s: %v", p.ID, err)
		}
	}
}

func searchParamsFor(p *model.Persona) source.SearchParams {
	params := source.SearchParams{Keywords: p.TargetRoles}
	if p.Location != nil {
		params.Location = *p.Location
	}
	if p.RemotePreference == model.RemoteOnly {
		params.RemoteOnly = true
	}
	return params
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "core-service",
		"version": version,
	})
}
