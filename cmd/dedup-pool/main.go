// jobscout-dedup-pool
//
// One-shot cutover tool: collapses duplicate job_postings rows into a
// single canonical row per description hash, repointing all child rows.
// Run after migration 00002 (persona_jobs backfill) and before 00003
// (which adds the unique description_hash index the collapsed pool needs).
//
// Safe to re-run; an advisory lock prevents concurrent executions.
package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobscout/core-service/internal/config"
	"jobscout/core-service/internal/db"
	"jobscout/core-service/internal/dedup"
	"jobscout/core-service/internal/model"
)

// advisoryLockKey identifies this tool in pg_try_advisory_lock.
const advisoryLockKey = 7340_2201

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[dedup-pool] Config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[dedup-pool] PostgreSQL: %v", err)
	}
	defer pool.Close()

	var locked bool
	if err := pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&locked); err != nil {
		log.Fatalf("[dedup-pool] Advisory lock: %v", err)
	}
	if !locked {
		log.Fatal("[dedup-pool] Another dedup-pool run holds the lock — exiting")
	}
	defer pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey)

	merged, removed, err := run(ctx, pool)
	if err != nil {
		log.Fatalf("[dedup-pool] Failed: %v", err)
	}
	log.Printf("[dedup-pool] Done — %d group(s) merged, %d duplicate row(s) removed", merged, removed)
}

// dupGroup is one description hash with more than one pool row.
type dupGroup struct {
	hash string
	ids  []string // ordered oldest first; ids[0] is canonical
}

func run(ctx context.Context, pool *pgxpool.Pool) (groups, removed int, err error) {
	dups, err := loadDuplicateGroups(ctx, pool)
	if err != nil {
		return 0, 0, err
	}
	if len(dups) == 0 {
		log.Println("[dedup-pool] No duplicate hashes found — nothing to do")
		return 0, 0, nil
	}
	log.Printf("[dedup-pool] Found %d duplicate hash group(s)", len(dups))

	for _, g := range dups {
		n, err := collapseGroup(ctx, pool, g)
		if err != nil {
			return groups, removed, err
		}
		groups++
		removed += n
	}
	return groups, removed, nil
}

func loadDuplicateGroups(ctx context.Context, pool *pgxpool.Pool) ([]dupGroup, error) {
	rows, err := pool.Query(ctx,
		`SELECT description_hash, array_agg(id ORDER BY created_at, id)
		 FROM job_postings
		 GROUP BY description_hash
		 HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dupGroup
	for rows.Next() {
		var g dupGroup
		if err := rows.Scan(&g.hash, &g.ids); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// collapseGroup merges one hash group into its oldest row inside a single
// transaction, returning the number of duplicate rows removed.
func collapseGroup(ctx context.Context, pool *pgxpool.Pool, g dupGroup) (int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	canonicalID := g.ids[0]
	dupeIDs := g.ids[1:]

	// Same hash but different companies means a boilerplate description
	// reused across employers, not a true duplicate. Skip the group; the
	// 00003 unique index will surface it for manual review.
	distinct, err := distinctCompanies(ctx, tx, g.ids)
	if err != nil {
		return 0, err
	}
	if distinct > 1 {
		log.Printf("[dedup-pool] Hash %.12s spans %d companies — skipping group", g.hash, distinct)
		return 0, nil
	}

	for _, dupeID := range dupeIDs {
		if err := absorbDuplicate(ctx, tx, canonicalID, dupeID); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM job_postings WHERE id = ANY($1)`, dupeIDs); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(dupeIDs), nil
}

func distinctCompanies(ctx context.Context, tx pgx.Tx, ids []string) (int, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(DISTINCT LOWER(TRIM(company_name))) FROM job_postings WHERE id = ANY($1)`,
		ids).Scan(&n)
	return n, err
}

// absorbDuplicate folds one duplicate row into the canonical: its source
// identity joins also_found_on, its links and content rows repoint, and
// conflicting persona links collapse onto the canonical.
func absorbDuplicate(ctx context.Context, tx pgx.Tx, canonicalID, dupeID string) error {
	var (
		canonicalRaw []byte
		dupeSourceID string
		dupeExternal *string
		dupeURL      *string
	)
	if err := tx.QueryRow(ctx,
		`SELECT also_found_on FROM job_postings WHERE id = $1 FOR UPDATE`,
		canonicalID).Scan(&canonicalRaw); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx,
		`SELECT source_id, external_id, source_url FROM job_postings WHERE id = $1`,
		dupeID).Scan(&dupeSourceID, &dupeExternal, &dupeURL); err != nil {
		return err
	}

	var current model.AlsoFoundOn
	if len(canonicalRaw) > 0 {
		if err := json.Unmarshal(canonicalRaw, &current); err != nil {
			return err
		}
	}
	entry := model.AlsoFoundOnEntry{SourceID: dupeSourceID, FoundAt: time.Now().UTC()}
	if dupeExternal != nil {
		entry.ExternalID = *dupeExternal
	}
	if dupeURL != nil {
		entry.SourceURL = strings.TrimSpace(*dupeURL)
	}
	if merged, changed := dedup.MergeSources(current, entry); changed {
		blob, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE job_postings SET also_found_on = $2, updated_at = NOW() WHERE id = $1`,
			canonicalID, blob); err != nil {
			return err
		}
	}

	// A persona linked to both rows keeps its older link; the newer one
	// goes away with the duplicate.
	if _, err := tx.Exec(ctx,
		`DELETE FROM persona_jobs pj
		 WHERE pj.job_posting_id = $2
		   AND EXISTS (
		     SELECT 1 FROM persona_jobs k
		     WHERE k.persona_id = pj.persona_id AND k.job_posting_id = $1
		   )`,
		canonicalID, dupeID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE persona_jobs SET job_posting_id = $1 WHERE job_posting_id = $2`,
		canonicalID, dupeID); err != nil {
		return err
	}

	// applications carries the same (persona, job) uniqueness as the links.
	if _, err := tx.Exec(ctx,
		`DELETE FROM applications a
		 WHERE a.job_posting_id = $2
		   AND EXISTS (
		     SELECT 1 FROM applications k
		     WHERE k.persona_id = a.persona_id AND k.job_posting_id = $1
		   )`,
		canonicalID, dupeID); err != nil {
		return err
	}

	for _, table := range []string{"job_variants", "cover_letters", "applications"} {
		if _, err := tx.Exec(ctx,
			`UPDATE `+table+` SET job_posting_id = $1 WHERE job_posting_id = $2`,
			canonicalID, dupeID); err != nil {
			return err
		}
	}

	// Repost lineage from the duplicate survives on the canonical.
	if _, err := tx.Exec(ctx,
		`UPDATE job_postings c
		 SET previous_posting_ids = (
		       SELECT ARRAY(SELECT DISTINCT unnest(c.previous_posting_ids || d.previous_posting_ids))
		       FROM job_postings d WHERE d.id = $2
		     ),
		     repost_count = GREATEST(c.repost_count,
		       (SELECT d.repost_count FROM job_postings d WHERE d.id = $2))
		 WHERE c.id = $1`,
		canonicalID, dupeID); err != nil {
		return err
	}
	return nil
}
