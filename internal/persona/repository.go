// Package persona loads persona aggregates and their matching embeddings.
package persona

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/pool"
)

// ErrNotFound is returned when a persona does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("persona: not found")

// Embedding kinds stored per persona.
const (
	KindHardSkills = "hard_skills"
	KindSoftSkills = "soft_skills"
	KindLogistics  = "logistics"
)

// Repository reads persona aggregates.
type Repository struct {
	db pool.DBTX
}

// NewRepository constructs a Repository.
func NewRepository(db pool.DBTX) *Repository {
	return &Repository{db: db}
}

const personaColumns = `id, user_id, full_name, location, commutable_cities,
	target_roles, target_skills, remote_preference, minimum_base_salary,
	industry_exclusions, requires_visa_support, years_experience,
	minimum_fit_threshold, auto_draft_threshold, onboarding_complete,
	poll_frequency, last_polled_at, next_poll_at`

func scanPersona(row pgx.Row) (*model.Persona, error) {
	var p model.Persona
	err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Location, &p.CommutableCities,
		&p.TargetRoles, &p.TargetSkills, &p.RemotePreference, &p.MinimumBaseSalary,
		&p.IndustryExclusions, &p.RequiresVisaSupport, &p.YearsExperience,
		&p.MinimumFitThreshold, &p.AutoDraftThreshold, &p.OnboardingComplete,
		&p.PollFrequency, &p.LastPolledAt, &p.NextPollAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Get loads a persona with its full aggregate: skills, stories, voice and
// custom non-negotiables.
func (r *Repository) Get(ctx context.Context, personaID string) (*model.Persona, error) {
	p, err := scanPersona(r.db.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = $1`, personaID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAggregate(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetOwned loads a persona only if it belongs to userID.
func (r *Repository) GetOwned(ctx context.Context, personaID, userID string) (*model.Persona, error) {
	p, err := scanPersona(r.db.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = $1 AND user_id = $2`,
		personaID, userID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAggregate(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) loadAggregate(ctx context.Context, p *model.Persona) error {
	rows, err := r.db.Query(ctx,
		`SELECT id, persona_id, name, years FROM persona_skills
		 WHERE persona_id = $1 ORDER BY name`, p.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var s model.PersonaSkill
		if err := rows.Scan(&s.ID, &s.PersonaID, &s.Name, &s.Years); err != nil {
			rows.Close()
			return err
		}
		p.Skills = append(p.Skills, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Query(ctx,
		`SELECT id, persona_id, title, situation, action, result, skill_tags
		 FROM achievement_stories WHERE persona_id = $1`, p.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var s model.AchievementStory
		if err := rows.Scan(&s.ID, &s.PersonaID, &s.Title, &s.Situation, &s.Action, &s.Result, &s.SkillTags); err != nil {
			rows.Close()
			return err
		}
		p.Stories = append(p.Stories, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var v model.VoiceProfile
	err = r.db.QueryRow(ctx,
		`SELECT persona_id, tone, formality, notes FROM voice_profiles
		 WHERE persona_id = $1`, p.ID).
		Scan(&v.PersonaID, &v.Tone, &v.Formality, &v.Notes)
	if err == nil {
		p.Voice = &v
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	rows, err = r.db.Query(ctx,
		`SELECT id, persona_id, label, phrase, must_contain
		 FROM custom_non_negotiables WHERE persona_id = $1`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var n model.CustomNonNegotiable
		if err := rows.Scan(&n.ID, &n.PersonaID, &n.Label, &n.Phrase, &n.MustContain); err != nil {
			return err
		}
		p.NonNegotiables = append(p.NonNegotiables, n)
	}
	return rows.Err()
}

// EligibleForSurfacing returns up to limit personas that finished
// onboarding and have at least one skill, full aggregates loaded.
func (r *Repository) EligibleForSurfacing(ctx context.Context, limit int) ([]*model.Persona, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id FROM personas p
		 WHERE p.onboarding_complete
		   AND EXISTS (SELECT 1 FROM persona_skills s WHERE s.persona_id = p.id)
		 ORDER BY p.created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Persona, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DueForPoll returns personas whose next automatic poll is due. Manual-only
// personas never appear.
func (r *Repository) DueForPoll(ctx context.Context, now time.Time, limit int) ([]*model.Persona, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+personaColumns+` FROM personas
		 WHERE poll_frequency <> $1
		   AND onboarding_complete
		   AND (next_poll_at IS NULL OR next_poll_at <= $2)
		 ORDER BY next_poll_at NULLS FIRST
		 LIMIT $3`,
		model.PollManualOnly, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveEmbedding upserts one persona embedding.
func (r *Repository) SaveEmbedding(ctx context.Context, personaID, kind string, vec model.Vector) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO persona_embeddings (persona_id, kind, embedding)
		 VALUES ($1, $2, $3::vector)
		 ON CONFLICT (persona_id, kind)
		 DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = NOW()`,
		personaID, kind, vec.String())
	return err
}

// LoadEmbeddings returns all stored embeddings for a persona, keyed by
// kind.
func (r *Repository) LoadEmbeddings(ctx context.Context, personaID string) (map[string]model.Vector, error) {
	rows, err := r.db.Query(ctx,
		`SELECT kind, embedding::text FROM persona_embeddings WHERE persona_id = $1`,
		personaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.Vector)
	for rows.Next() {
		var kind, raw string
		if err := rows.Scan(&kind, &raw); err != nil {
			return nil, err
		}
		vec, err := model.ParseVector(raw)
		if err != nil {
			return nil, err
		}
		out[kind] = vec
	}
	return out, rows.Err()
}

// UnresolvedChangeFlags reports whether a persona has pending change flags
// (profile edits not yet reflected in stored embeddings).
func (r *Repository) UnresolvedChangeFlags(ctx context.Context, personaID string) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM change_flags WHERE persona_id = $1 AND resolved_at IS NULL`,
		personaID).Scan(&n)
	return n > 0, err
}

// FlagChange records a profile edit that invalidates derived state.
func (r *Repository) FlagChange(ctx context.Context, personaID, field string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO change_flags (persona_id, field) VALUES ($1, $2)`,
		personaID, field)
	return err
}

// ResolveChangeFlags marks all pending flags for a persona resolved.
func (r *Repository) ResolveChangeFlags(ctx context.Context, personaID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE change_flags SET resolved_at = NOW()
		 WHERE persona_id = $1 AND resolved_at IS NULL`,
		personaID)
	return err
}
