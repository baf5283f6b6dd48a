package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"jobscout/core-service/internal/model"
)

// LinkRepository manages persona_jobs rows. Every read that takes a userID
// joins through personas so a caller only ever sees links it owns.
type LinkRepository struct {
	db DBTX
}

// NewLinkRepository constructs a LinkRepository over db.
func NewLinkRepository(db DBTX) *LinkRepository { return &LinkRepository{db: db} }

// WithTx returns a LinkRepository bound to tx.
func (r *LinkRepository) WithTx(tx pgx.Tx) *LinkRepository { return &LinkRepository{db: tx} }

const linkColumns = `
	id, persona_id, job_posting_id, discovery_method, discovered_at,
	status, is_favorite, fit_score, stretch_score, failed_non_negotiables,
	score_details, scored_at, dismissed_at, created_at, updated_at`

func scanLink(row pgx.Row) (*model.PersonaJob, error) {
	var (
		l       model.PersonaJob
		details []byte
	)
	err := row.Scan(
		&l.ID, &l.PersonaID, &l.JobPostingID, &l.DiscoveryMethod, &l.DiscoveredAt,
		&l.Status, &l.IsFavorite, &l.FitScore, &l.StretchScore, &l.FailedNonNegotiables,
		&details, &l.ScoredAt, &l.DismissedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan persona_jobs: %w", err)
	}
	if len(details) > 0 {
		_ = json.Unmarshal(details, &l.ScoreDetails)
	}
	return &l, nil
}

// Create inserts a new link. A uniqueness violation on
// (persona_id, job_posting_id) means a concurrent creator won; callers use
// savepoint recovery plus GetByPersonaAndJob.
func (r *LinkRepository) Create(ctx context.Context, personaID, jobPostingID string, method model.DiscoveryMethod) (*model.PersonaJob, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO persona_jobs (persona_id, job_posting_id, discovery_method)
		 VALUES ($1, $2, $3)
		 RETURNING `+linkColumns,
		personaID, jobPostingID, method)
	return scanLink(row)
}

// GetByPersonaAndJob loads the link for (persona, job) regardless of user
// scoping — used internally by dedup and surfacing.
func (r *LinkRepository) GetByPersonaAndJob(ctx context.Context, personaID, jobPostingID string) (*model.PersonaJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM persona_jobs
		 WHERE persona_id = $1 AND job_posting_id = $2`, personaID, jobPostingID)
	return scanLink(row)
}

// GetByID loads one link scoped to its owning user. Links owned by other
// users are indistinguishable from missing rows.
func (r *LinkRepository) GetByID(ctx context.Context, linkID, userID string) (*model.PersonaJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM persona_jobs pj
		 WHERE pj.id = $1
		   AND EXISTS (
		     SELECT 1 FROM personas p
		     WHERE p.id = pj.persona_id AND p.user_id = $2
		   )`, linkID, userID)
	return scanLink(row)
}

// ListByPersona returns a persona's links scoped to the owning user,
// optionally filtered by status, newest first.
func (r *LinkRepository) ListByPersona(ctx context.Context, personaID, userID string, status *model.LinkStatus) ([]*model.PersonaJob, error) {
	const base = `
		SELECT ` + linkColumns + ` FROM persona_jobs pj
		WHERE pj.persona_id = $1
		  AND EXISTS (
		    SELECT 1 FROM personas p
		    WHERE p.id = pj.persona_id AND p.user_id = $2
		  )`

	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = r.db.Query(ctx, base+` AND pj.status = $3 ORDER BY pj.discovered_at DESC`, personaID, userID, *status)
	} else {
		rows, err = r.db.Query(ctx, base+` ORDER BY pj.discovered_at DESC`, personaID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query persona_jobs: %w", err)
	}
	defer rows.Close()

	links := make([]*model.PersonaJob, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// LinkedPersonaIDs returns the set of persona ids already linked to a job.
// The surfacing worker uses it to skip duplicate surfacing.
func (r *LinkRepository) LinkedPersonaIDs(ctx context.Context, jobPostingID string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT persona_id FROM persona_jobs WHERE job_posting_id = $1`, jobPostingID)
	if err != nil {
		return nil, fmt.Errorf("query linked personas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan persona id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// mutableLinkFields is the whitelist of updatable columns — strictly
// user-state. persona_id and job_posting_id are immutable.
var mutableLinkFields = map[string]string{
	"status":                 "status",
	"is_favorite":            "is_favorite",
	"fit_score":              "fit_score",
	"stretch_score":          "stretch_score",
	"failed_non_negotiables": "failed_non_negotiables",
	"score_details":          "score_details",
	"scored_at":              "scored_at",
	"dismissed_at":           "dismissed_at",
}

// Update mutates whitelisted fields of one link, scoped to the owning
// user. Transitioning status to DISMISSED sets dismissed_at atomically
// unless the caller supplied it.
func (r *LinkRepository) Update(ctx context.Context, linkID, userID string, fields map[string]any) (*model.PersonaJob, error) {
	if len(fields) == 0 {
		return r.GetByID(ctx, linkID, userID)
	}
	if st, ok := fields["status"]; ok {
		if status, isStatus := st.(model.LinkStatus); isStatus && status == model.LinkDismissed {
			if _, has := fields["dismissed_at"]; !has {
				fields["dismissed_at"] = time.Now().UTC()
			}
		}
	}

	set := make([]string, 0, len(fields))
	args := []any{linkID, userID}
	for name, value := range fields {
		col, ok := mutableLinkFields[name]
		if !ok {
			return nil, fmt.Errorf("pool: link field %q is not updatable", name)
		}
		if name == "score_details" && value != nil {
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("marshal score_details: %w", err)
			}
			value = raw
		}
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	query := fmt.Sprintf(
		`UPDATE persona_jobs pj SET %s, updated_at = NOW()
		 WHERE pj.id = $1
		   AND EXISTS (
		     SELECT 1 FROM personas p
		     WHERE p.id = pj.persona_id AND p.user_id = $2
		   )
		 RETURNING %s`, strings.Join(set, ", "), linkColumns)
	return scanLink(r.db.QueryRow(ctx, query, args...))
}

// BulkUpdateStatus sets status on the given links, filtered by ownership,
// and returns the affected count. An empty id list short-circuits to 0.
// DISMISSED transitions stamp dismissed_at in the same statement.
func (r *LinkRepository) BulkUpdateStatus(ctx context.Context, linkIDs []string, userID string, status model.LinkStatus) (int64, error) {
	if len(linkIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE persona_jobs pj
		 SET status = $1,
		     dismissed_at = CASE WHEN $1 = 'DISMISSED' THEN NOW() ELSE dismissed_at END,
		     updated_at = NOW()
		 WHERE pj.id = ANY($2)
		   AND pj.persona_id IN (SELECT id FROM personas WHERE user_id = $3)`,
		status, linkIDs, userID)
	if err != nil {
		return 0, fmt.Errorf("bulk update status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// BulkUpdateFavorite sets is_favorite on the given links, filtered by
// ownership, and returns the affected count.
func (r *LinkRepository) BulkUpdateFavorite(ctx context.Context, linkIDs []string, userID string, favorite bool) (int64, error) {
	if len(linkIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE persona_jobs pj
		 SET is_favorite = $1, updated_at = NOW()
		 WHERE pj.id = ANY($2)
		   AND pj.persona_id IN (SELECT id FROM personas WHERE user_id = $3)`,
		favorite, linkIDs, userID)
	if err != nil {
		return 0, fmt.Errorf("bulk update favorite: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PersonaOwnedBy reports whether personaID belongs to userID.
func (r *LinkRepository) PersonaOwnedBy(ctx context.Context, personaID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM personas WHERE id = $1 AND user_id = $2)`,
		personaID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check persona ownership: %w", err)
	}
	return ok, nil
}
