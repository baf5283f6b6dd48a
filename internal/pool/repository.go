// Package pool implements persistence for the shared job pool and the
// per-persona link rows.
//
// Repository write methods are system-only: they carry no user scoping and
// must never be exposed through a user-facing surface. All user-facing
// reads and writes go through LinkRepository, which joins through personas
// to enforce tenant isolation.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"jobscout/core-service/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so repositories run
// equally inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound is returned when a referenced row is missing (or, for
// user-scoped reads, not owned by the caller).
var ErrNotFound = errors.New("not found")

// UniqueViolation reports whether err is a Postgres uniqueness violation.
// The dedup pipeline uses this to detect lost insert races.
func UniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Repository provides Tier-0 CRUD on the shared pool.
type Repository struct {
	db DBTX
}

// NewRepository constructs a Repository over db.
func NewRepository(db DBTX) *Repository { return &Repository{db: db} }

// WithTx returns a Repository bound to tx.
func (r *Repository) WithTx(tx pgx.Tx) *Repository { return &Repository{db: tx} }

const jobPostingColumns = `
	id, source_id, external_id, title, company_name, description,
	description_hash, source_url, location, work_model, seniority_level,
	salary_min, salary_max, requirements_text, culture_text,
	required_skills, preferred_skills, years_exp_min, years_exp_max,
	ghost_score, ghost_signals, repost_count, previous_posting_ids,
	also_found_on, first_seen_date, last_verified_at, is_active,
	is_quarantined, quarantined_until, created_at, updated_at`

func scanJobPosting(row pgx.Row) (*model.JobPosting, error) {
	var (
		j            model.JobPosting
		ghostSignals []byte
		alsoFoundOn  []byte
	)
	err := row.Scan(
		&j.ID, &j.SourceID, &j.ExternalID, &j.Title, &j.CompanyName, &j.Description,
		&j.DescriptionHash, &j.SourceURL, &j.Location, &j.WorkModel, &j.SeniorityLevel,
		&j.SalaryMin, &j.SalaryMax, &j.RequirementsText, &j.CultureText,
		&j.RequiredSkills, &j.PreferredSkills, &j.YearsExpMin, &j.YearsExpMax,
		&j.GhostScore, &ghostSignals, &j.RepostCount, &j.PreviousPostingIDs,
		&alsoFoundOn, &j.FirstSeenDate, &j.LastVerifiedAt, &j.IsActive,
		&j.IsQuarantined, &j.QuarantinedUntil, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job_postings: %w", err)
	}
	if len(ghostSignals) > 0 {
		var gs model.GhostSignals
		if err := json.Unmarshal(ghostSignals, &gs); err == nil {
			j.GhostSignals = &gs
		}
	}
	if len(alsoFoundOn) > 0 {
		if err := json.Unmarshal(alsoFoundOn, &j.AlsoFoundOn); err != nil {
			return nil, fmt.Errorf("decode also_found_on: %w", err)
		}
	}
	if j.AlsoFoundOn.Sources == nil {
		j.AlsoFoundOn.Sources = []model.AlsoFoundOnEntry{}
	}
	return &j, nil
}

// GetByID loads one pool row.
func (r *Repository) GetByID(ctx context.Context, id string) (*model.JobPosting, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings WHERE id = $1`, id)
	return scanJobPosting(row)
}

// GetBySourceAndExternalID loads the pool row with the given
// (source_id, external_id) pair, which is unique when external_id is set.
func (r *Repository) GetBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*model.JobPosting, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings
		 WHERE source_id = $1 AND external_id = $2`, sourceID, externalID)
	return scanJobPosting(row)
}

// GetByDescriptionHash loads the pool row with the given hash, which is
// unique in steady state.
func (r *Repository) GetByDescriptionHash(ctx context.Context, hash string) (*model.JobPosting, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings WHERE description_hash = $1`, hash)
	return scanJobPosting(row)
}

// GetByCompanyForSimilarity returns repost candidates: active rows with the
// same company name, newest first.
func (r *Repository) GetByCompanyForSimilarity(ctx context.Context, companyName string) ([]*model.JobPosting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings
		 WHERE LOWER(company_name) = LOWER($1)
		 ORDER BY created_at DESC
		 LIMIT 50`, companyName)
	if err != nil {
		return nil, fmt.Errorf("query similarity candidates: %w", err)
	}
	defer rows.Close()

	var out []*model.JobPosting
	for rows.Next() {
		j, err := scanJobPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CreateParams carries the required and optional fields for Create.
type CreateParams struct {
	SourceID        string
	Title           string
	CompanyName     string
	Description     string
	DescriptionHash string
	FirstSeenDate   time.Time

	ExternalID         *string
	SourceURL          *string
	Location           *string
	WorkModel          model.WorkModel
	SalaryMin          *float64
	SalaryMax          *float64
	RequirementsText   *string
	CultureText        *string
	RequiredSkills     []string
	PreferredSkills    []string
	GhostScore         *float64
	GhostSignals       *model.GhostSignals
	RepostCount        int
	PreviousPostingIDs []string
}

// Create inserts a new pool row. A uniqueness violation here means a
// concurrent writer won the race; callers recover via savepoint rollback
// and re-query (see UniqueViolation).
func (r *Repository) Create(ctx context.Context, p CreateParams) (*model.JobPosting, error) {
	workModel := p.WorkModel
	if workModel == "" {
		workModel = model.WorkUnknown
	}
	ghostSignals, err := marshalNullable(p.GhostSignals)
	if err != nil {
		return nil, err
	}
	requiredSkills := p.RequiredSkills
	if requiredSkills == nil {
		requiredSkills = []string{}
	}
	preferredSkills := p.PreferredSkills
	if preferredSkills == nil {
		preferredSkills = []string{}
	}
	prevIDs := p.PreviousPostingIDs
	if prevIDs == nil {
		prevIDs = []string{}
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO job_postings
		   (source_id, external_id, title, company_name, description,
		    description_hash, source_url, location, work_model,
		    salary_min, salary_max, requirements_text, culture_text,
		    required_skills, preferred_skills, ghost_score, ghost_signals,
		    repost_count, previous_posting_ids, first_seen_date)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		 RETURNING `+jobPostingColumns,
		p.SourceID, p.ExternalID, p.Title, p.CompanyName, p.Description,
		p.DescriptionHash, p.SourceURL, p.Location, workModel,
		p.SalaryMin, p.SalaryMax, p.RequirementsText, p.CultureText,
		requiredSkills, preferredSkills, p.GhostScore, ghostSignals,
		p.RepostCount, prevIDs, p.FirstSeenDate,
	)
	return scanJobPosting(row)
}

// mutableJobFields is the whitelist of columns Update may touch.
// id, source_id and created_at are immutable.
var mutableJobFields = map[string]string{
	"external_id":       "external_id",
	"title":             "title",
	"company_name":      "company_name",
	"description":       "description",
	"description_hash":  "description_hash",
	"source_url":        "source_url",
	"location":          "location",
	"work_model":        "work_model",
	"seniority_level":   "seniority_level",
	"salary_min":        "salary_min",
	"salary_max":        "salary_max",
	"requirements_text": "requirements_text",
	"culture_text":      "culture_text",
	"required_skills":   "required_skills",
	"preferred_skills":  "preferred_skills",
	"years_exp_min":     "years_exp_min",
	"years_exp_max":     "years_exp_max",
	"ghost_score":       "ghost_score",
	"ghost_signals":     "ghost_signals",
	"also_found_on":     "also_found_on",
	"last_verified_at":  "last_verified_at",
	"is_active":         "is_active",
	"is_quarantined":    "is_quarantined",
	"quarantined_until": "quarantined_until",
}

// Update mutates the whitelisted fields of one pool row. An unrecognised
// field name is a programmer error and fails immediately without touching
// the database. JSON-typed values (ghost_signals, also_found_on) are
// marshalled here so callers pass domain structs.
func (r *Repository) Update(ctx context.Context, id string, fields map[string]any) (*model.JobPosting, error) {
	if len(fields) == 0 {
		return r.GetByID(ctx, id)
	}

	set := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	args = append(args, id)
	for name, value := range fields {
		col, ok := mutableJobFields[name]
		if !ok {
			return nil, fmt.Errorf("pool: field %q is not updatable", name)
		}
		switch name {
		case "ghost_signals", "also_found_on":
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("marshal %s: %w", name, err)
			}
			value = raw
		}
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	query := fmt.Sprintf(
		`UPDATE job_postings SET %s, updated_at = NOW() WHERE id = $1 RETURNING %s`,
		strings.Join(set, ", "), jobPostingColumns)
	return scanJobPosting(r.db.QueryRow(ctx, query, args...))
}

// Deactivate sets is_active = false.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE job_postings SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseExpiredQuarantines clears the quarantine flag on rows whose TTL
// has elapsed and returns the affected count.
func (r *Repository) ReleaseExpiredQuarantines(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE job_postings
		 SET is_quarantined = false, quarantined_until = NULL, updated_at = NOW()
		 WHERE is_quarantined AND quarantined_until IS NOT NULL AND quarantined_until <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("release quarantines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecentActive returns up to limit active, non-quarantined pool rows
// created at or after since, newest first. Used by the surfacing worker.
func (r *Repository) RecentActive(ctx context.Context, since time.Time, limit int) ([]*model.JobPosting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobPostingColumns+` FROM job_postings
		 WHERE is_active AND NOT is_quarantined AND created_at >= $1
		 ORDER BY created_at DESC
		 LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent active: %w", err)
	}
	defer rows.Close()

	var out []*model.JobPosting
	for rows.Next() {
		j, err := scanJobPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ResolveSourceID returns the job_sources id for name, creating the row on
// first sight. Only allow-listed names should reach this method; the
// orchestrator gates on the source allow-list before calling.
func (r *Repository) ResolveSourceID(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO job_sources (name) VALUES ($1)
		   ON CONFLICT (name) DO NOTHING
		   RETURNING id
		 )
		 SELECT id FROM ins
		 UNION ALL
		 SELECT id FROM job_sources WHERE name = $1
		 LIMIT 1`, name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("resolve source %q: %w", name, err)
	}
	return id, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *model.GhostSignals:
		if t == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json field: %w", err)
	}
	return raw, nil
}
