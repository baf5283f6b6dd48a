// Package registry manages the admin-controlled model registry: which
// provider models exist, their effective-dated pricing, and the task
// routing table the metered proxy resolves against.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/pool"
)

// ErrNotFound is returned when a registry row does not exist.
var ErrNotFound = errors.New("registry: not found")

// Conflict codes surfaced to the admin API.
const (
	CodeModelNotFound        = "MODEL_NOT_FOUND"
	CodeModelInUse           = "MODEL_IN_USE"
	CodeLastPricing          = "LAST_PRICING"
	CodeDuplicatePricing     = "DUPLICATE_PRICING"
	CodeCannotDemoteSelf     = "CANNOT_DEMOTE_SELF"
	CodeAdminEmailsProtected = "ADMIN_EMAILS_PROTECTED"
)

// ConflictError is a business-rule violation with a stable code.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TaskDefault is the routing fallback task type.
const TaskDefault = "_default"

// Service owns the registry tables.
type Service struct {
	db          *pgxpool.Pool
	adminEmails []string
}

// NewService constructs a Service. adminEmails is the env-protected
// allow-list that can never be demoted.
func NewService(db *pgxpool.Pool, adminEmails []string) *Service {
	return &Service{db: db, adminEmails: adminEmails}
}

// ── Models ─────────────────────────────────────────────────────────────

// RegisterModel inserts a model, or reactivates it if the (provider, model)
// pair already exists.
func (s *Service) RegisterModel(ctx context.Context, provider, modelName, displayName, modelType string) (*model.RegisteredModel, error) {
	if modelType != "llm" && modelType != "embedding" {
		return nil, fmt.Errorf("registry: invalid model type %q", modelType)
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO model_registry (provider, model, display_name, model_type, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (provider, model)
		 DO UPDATE SET display_name = EXCLUDED.display_name, is_active = TRUE
		 RETURNING id, provider, model, display_name, model_type, is_active, created_at`,
		provider, modelName, displayName, modelType)
	return scanModel(row)
}

// DeactivateModel marks a model inactive. A model still referenced by the
// routing table cannot be deactivated.
func (s *Service) DeactivateModel(ctx context.Context, provider, modelName string) error {
	var routed int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM task_routing_config WHERE provider = $1 AND model = $2`,
		provider, modelName).Scan(&routed)
	if err != nil {
		return err
	}
	if routed > 0 {
		return &ConflictError{
			Code:    CodeModelInUse,
			Message: fmt.Sprintf("%s/%s is referenced by %d task route(s)", provider, modelName, routed),
		}
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE model_registry SET is_active = FALSE WHERE provider = $1 AND model = $2`,
		provider, modelName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ConflictError{Code: CodeModelNotFound, Message: provider + "/" + modelName}
	}
	return nil
}

// ListModels returns all registered models, active first, then by
// (provider, model).
func (s *Service) ListModels(ctx context.Context) ([]model.RegisteredModel, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, provider, model, display_name, model_type, is_active, created_at
		 FROM model_registry
		 ORDER BY is_active DESC, provider, model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RegisteredModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetModel looks up one (provider, model) registration.
func (s *Service) GetModel(ctx context.Context, provider, modelName string) (*model.RegisteredModel, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, provider, model, display_name, model_type, is_active, created_at
		 FROM model_registry WHERE provider = $1 AND model = $2`,
		provider, modelName)
	m, err := scanModel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanModel(row pgx.Row) (*model.RegisteredModel, error) {
	var m model.RegisteredModel
	err := row.Scan(&m.ID, &m.Provider, &m.Model, &m.DisplayName, &m.Type, &m.IsActive, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ── Pricing ────────────────────────────────────────────────────────────

// AddPricing inserts an effective-dated pricing row for a registered
// model. The (provider, model, effective_date) triple is unique.
func (s *Service) AddPricing(ctx context.Context, provider, modelName string, effectiveDate time.Time, inputPer1K, outputPer1K, margin decimal.Decimal) (*model.PricingRow, error) {
	if _, err := s.GetModel(ctx, provider, modelName); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ConflictError{Code: CodeModelNotFound, Message: provider + "/" + modelName}
		}
		return nil, err
	}
	if margin.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("registry: margin multiplier must be positive, got %s", margin)
	}

	var p model.PricingRow
	err := s.db.QueryRow(ctx,
		`INSERT INTO pricing_config
		   (provider, model, effective_date, input_cost_per_1k, output_cost_per_1k, margin_multiplier)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, provider, model, effective_date,
		           input_cost_per_1k, output_cost_per_1k, margin_multiplier`,
		provider, modelName, effectiveDate, inputPer1K, outputPer1K, margin).
		Scan(&p.ID, &p.Provider, &p.Model, &p.EffectiveDate,
			&p.InputCostPer1K, &p.OutputCostPer1K, &p.MarginMultiplier)
	if err != nil {
		if pool.UniqueViolation(err) {
			return nil, &ConflictError{
				Code:    CodeDuplicatePricing,
				Message: fmt.Sprintf("%s/%s already has pricing effective %s", provider, modelName, effectiveDate.Format("2006-01-02")),
			}
		}
		return nil, err
	}
	return &p, nil
}

// DeletePricing removes one pricing row. The last row for a model cannot
// be deleted — the proxy would fail closed for every call against it.
func (s *Service) DeletePricing(ctx context.Context, pricingID string) error {
	var provider, modelName string
	err := s.db.QueryRow(ctx,
		`SELECT provider, model FROM pricing_config WHERE id = $1`, pricingID).
		Scan(&provider, &modelName)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var remaining int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pricing_config WHERE provider = $1 AND model = $2`,
		provider, modelName).Scan(&remaining); err != nil {
		return err
	}
	if remaining <= 1 {
		return &ConflictError{
			Code:    CodeLastPricing,
			Message: fmt.Sprintf("cannot delete the only pricing row for %s/%s", provider, modelName),
		}
	}

	_, err = s.db.Exec(ctx, `DELETE FROM pricing_config WHERE id = $1`, pricingID)
	return err
}

// ListPricing returns all pricing rows ordered by (provider, model,
// effective_date DESC). IsCurrent marks, per model, the newest row whose
// effective date is not in the future.
func (s *Service) ListPricing(ctx context.Context) ([]model.PricingRow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, provider, model, effective_date,
		        input_cost_per_1k, output_cost_per_1k, margin_multiplier
		 FROM pricing_config
		 ORDER BY provider, model, effective_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PricingRow
	for rows.Next() {
		var p model.PricingRow
		if err := rows.Scan(&p.ID, &p.Provider, &p.Model, &p.EffectiveDate,
			&p.InputCostPer1K, &p.OutputCostPer1K, &p.MarginMultiplier); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	MarkCurrent(out, time.Now().UTC())
	return out, nil
}

// MarkCurrent sets IsCurrent on the newest non-future row of each
// (provider, model) group. rows must be ordered effective_date DESC within
// each group.
func MarkCurrent(rows []model.PricingRow, now time.Time) {
	seen := make(map[string]bool)
	for i := range rows {
		rows[i].IsCurrent = false
		key := rows[i].Provider + "/" + rows[i].Model
		if !seen[key] && !rows[i].EffectiveDate.After(now) {
			rows[i].IsCurrent = true
			seen[key] = true
		}
	}
}

// CurrentPricing resolves the effective pricing for a (provider, model)
// pair at the given instant: the newest row with effective_date <= now.
// ErrNotFound means there is no usable pricing and callers must fail
// closed.
func (s *Service) CurrentPricing(ctx context.Context, provider, modelName string, now time.Time) (*model.PricingRow, error) {
	var p model.PricingRow
	err := s.db.QueryRow(ctx,
		`SELECT id, provider, model, effective_date,
		        input_cost_per_1k, output_cost_per_1k, margin_multiplier
		 FROM pricing_config
		 WHERE provider = $1 AND model = $2 AND effective_date <= $3
		 ORDER BY effective_date DESC
		 LIMIT 1`,
		provider, modelName, now).
		Scan(&p.ID, &p.Provider, &p.Model, &p.EffectiveDate,
			&p.InputCostPer1K, &p.OutputCostPer1K, &p.MarginMultiplier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.IsCurrent = true
	return &p, nil
}

// ── Task routing ───────────────────────────────────────────────────────

// SetRoute upserts the (provider, task_type) → model binding. The model
// must be registered and active.
func (s *Service) SetRoute(ctx context.Context, provider, taskType, modelName string) (*model.TaskRoute, error) {
	m, err := s.GetModel(ctx, provider, modelName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ConflictError{Code: CodeModelNotFound, Message: provider + "/" + modelName}
		}
		return nil, err
	}
	if !m.IsActive {
		return nil, &ConflictError{Code: CodeModelNotFound, Message: provider + "/" + modelName + " is inactive"}
	}

	var r model.TaskRoute
	err = s.db.QueryRow(ctx,
		`INSERT INTO task_routing_config (provider, task_type, model)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, task_type) DO UPDATE SET model = EXCLUDED.model
		 RETURNING id, provider, task_type, model`,
		provider, taskType, modelName).
		Scan(&r.ID, &r.Provider, &r.TaskType, &r.Model)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRoute removes a task binding. Deleting the _default route while
// other routes rely on fallback is allowed; the proxy fails closed instead.
func (s *Service) DeleteRoute(ctx context.Context, provider, taskType string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM task_routing_config WHERE provider = $1 AND task_type = $2`,
		provider, taskType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveModel maps (provider, taskType) to a model name, falling back to
// the provider's _default route. ErrNotFound means no route exists and the
// caller must fail closed.
func (s *Service) ResolveModel(ctx context.Context, provider, taskType string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx,
		`SELECT model FROM task_routing_config WHERE provider = $1 AND task_type = $2`,
		provider, taskType).Scan(&name)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	err = s.db.QueryRow(ctx,
		`SELECT model FROM task_routing_config WHERE provider = $1 AND task_type = $2`,
		provider, TaskDefault).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// ListRoutes returns all routing rows ordered by (provider, task_type).
func (s *Service) ListRoutes(ctx context.Context) ([]model.TaskRoute, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, provider, task_type, model
		 FROM task_routing_config
		 ORDER BY provider, task_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskRoute
	for rows.Next() {
		var r model.TaskRoute
		if err := rows.Scan(&r.ID, &r.Provider, &r.TaskType, &r.Model); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Admin flags ────────────────────────────────────────────────────────

// SetAdmin promotes or demotes a user. Demotion is refused for the caller's
// own account and for accounts on the env-protected allow-list.
func (s *Service) SetAdmin(ctx context.Context, callerUserID, targetUserID string, isAdmin bool) error {
	if !isAdmin {
		if targetUserID == callerUserID {
			return &ConflictError{Code: CodeCannotDemoteSelf, Message: "admins cannot demote themselves"}
		}
		var email string
		err := s.db.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, targetUserID).Scan(&email)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if s.isProtectedEmail(email) {
			return &ConflictError{
				Code:    CodeAdminEmailsProtected,
				Message: email + " is on the ADMIN_EMAILS allow-list",
			}
		}
	}
	tag, err := s.db.Exec(ctx, `UPDATE users SET is_admin = $2 WHERE id = $1`, targetUserID, isAdmin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) isProtectedEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range s.adminEmails {
		if e == email {
			return true
		}
	}
	return false
}

// ── System config ──────────────────────────────────────────────────────

// GetSystemConfig reads one system_config value.
func (s *Service) GetSystemConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSystemConfig upserts one system_config value.
func (s *Service) SetSystemConfig(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO system_config (key, value)
		 VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	return err
}
