package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/pool"
)

// ErrNotFound is returned when an application does not exist or is not
// owned by the requesting user.
var ErrNotFound = errors.New("apps: application not found")

// ErrInvalidTransition is returned for a move the state machine forbids.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("apps: transition %s → %s is not allowed", e.From, e.To)
}

// statusChannel is the redis channel status changes publish to.
const statusChannel = "applications:status"

// Application is one tracked application. DescriptionSnapshot is captured
// at creation and never updated, even when the pool row changes.
type Application struct {
	ID                  string
	PersonaID           string
	JobPostingID        string
	Status              Status
	IsPinned            bool
	ArchivedAt          *time.Time
	DescriptionSnapshot string
	SubmittedPDFID      *string
	HistoryLog          []HistoryEntry
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HistoryEntry is one status change in the application's log.
type HistoryEntry struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// Service encapsulates application-tracking logic. It is
// transport-agnostic.
type Service struct {
	db  *pgxpool.Pool
	rdb *redis.Client
}

// NewService returns a configured Service.
func NewService(db *pgxpool.Pool, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb}
}

const appColumns = `a.id, a.persona_id, a.job_posting_id, a.status, a.is_pinned,
	a.archived_at, a.description_snapshot, a.submitted_pdf_id, a.history_log,
	a.created_at, a.updated_at`

func scanApp(row pgx.Row) (*Application, error) {
	var (
		a   Application
		raw []byte
	)
	err := row.Scan(&a.ID, &a.PersonaID, &a.JobPostingID, &a.Status, &a.IsPinned,
		&a.ArchivedAt, &a.DescriptionSnapshot, &a.SubmittedPDFID, &raw,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a.HistoryLog); err != nil {
			return nil, fmt.Errorf("apps: decode history_log: %w", err)
		}
	}
	return &a, nil
}

// Create records a new application at APPLIED for an owned persona,
// snapshotting the pool job's description at this instant.
func (s *Service) Create(ctx context.Context, userID, personaID, jobPostingID string) (*Application, error) {
	row := s.db.QueryRow(ctx,
		`WITH owned AS (
		   SELECT id FROM personas WHERE id = $1 AND user_id = $2
		 ), ins AS (
		   INSERT INTO applications (persona_id, job_posting_id, status, description_snapshot)
		   SELECT owned.id, $3, $4, jp.description
		   FROM owned JOIN job_postings jp ON jp.id = $3
		   RETURNING applications.*
		 )
		 SELECT `+appColumns+` FROM ins a`,
		personaID, userID, jobPostingID, StatusApplied)
	a, err := scanApp(row)
	if err != nil {
		if pool.UniqueViolation(err) {
			return nil, fmt.Errorf("apps: application already exists for persona %s job %s", personaID, jobPostingID)
		}
		return nil, err
	}
	slog.Info("application created", "application_id", a.ID, "persona_id", personaID, "job_id", jobPostingID)
	return a, nil
}

// Get returns one application, validating ownership through the persona.
func (s *Service) Get(ctx context.Context, userID, appID string) (*Application, error) {
	return scanApp(s.db.QueryRow(ctx,
		`SELECT `+appColumns+`
		 FROM applications a
		 JOIN personas p ON p.id = a.persona_id
		 WHERE a.id = $1 AND p.user_id = $2`,
		appID, userID))
}

// List returns a user's applications, pinned first then newest, optionally
// filtered by status. Archived applications are excluded unless
// includeArchived is set.
func (s *Service) List(ctx context.Context, userID string, statusFilter *Status, includeArchived bool) ([]Application, error) {
	query := `SELECT ` + appColumns + `
		 FROM applications a
		 JOIN personas p ON p.id = a.persona_id
		 WHERE p.user_id = $1`
	args := []any{userID}
	if statusFilter != nil {
		args = append(args, *statusFilter)
		query += fmt.Sprintf(" AND a.status = $%d", len(args))
	}
	if !includeArchived {
		query += " AND a.archived_at IS NULL"
	}
	query += " ORDER BY a.is_pinned DESC, a.updated_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("apps: list query: %w", err)
	}
	defer rows.Close()

	apps := make([]Application, 0)
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// UpdateStatus moves an application through the state machine, appending
// to the history log. The change event is published best-effort. Accepting
// an offer pauses the persona's automatic polling: the search is over.
func (s *Service) UpdateStatus(ctx context.Context, userID, appID string, to Status) (*Application, error) {
	current, err := s.Get(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	if !IsTransitionAllowed(current.Status, to) {
		return nil, &ErrInvalidTransition{From: current.Status, To: to}
	}

	entry := HistoryEntry{From: current.Status, To: to, At: time.Now().UTC()}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	a, err := scanApp(s.db.QueryRow(ctx,
		`UPDATE applications a
		 SET status = $3,
		     history_log = history_log || $4::jsonb,
		     updated_at = NOW()
		 FROM personas p
		 WHERE a.id = $1 AND p.id = a.persona_id AND p.user_id = $2
		 RETURNING `+appColumns,
		appID, userID, to, entryJSON))
	if err != nil {
		return nil, err
	}

	if IsAccepted(to) {
		s.pausePolling(ctx, a.PersonaID)
	}

	s.publishStatus(ctx, a, entry)
	slog.Info("application status changed", "application_id", appID, "from", entry.From, "to", to)
	return a, nil
}

// pausePolling stops scheduled discovery for a persona whose offer was
// accepted. Best-effort: the status change already committed.
func (s *Service) pausePolling(ctx context.Context, personaID string) {
	_, err := s.db.Exec(ctx,
		`UPDATE personas
		 SET poll_frequency = $2, next_poll_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		personaID, model.PollManualOnly)
	if err != nil {
		slog.Warn("pause polling after acceptance failed", "persona_id", personaID, "error", err)
		return
	}
	slog.Info("polling paused after acceptance", "persona_id", personaID)
}

// SetPinned toggles the pin flag.
func (s *Service) SetPinned(ctx context.Context, userID, appID string, pinned bool) (*Application, error) {
	return scanApp(s.db.QueryRow(ctx,
		`UPDATE applications a
		 SET is_pinned = $3, updated_at = NOW()
		 FROM personas p
		 WHERE a.id = $1 AND p.id = a.persona_id AND p.user_id = $2
		 RETURNING `+appColumns,
		appID, userID, pinned))
}

// Archive soft-deletes an application. The row and its history stay until
// the retention pass.
func (s *Service) Archive(ctx context.Context, userID, appID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE applications a
		 SET archived_at = NOW(), updated_at = NOW()
		 FROM personas p
		 WHERE a.id = $1 AND p.id = a.persona_id AND p.user_id = $2
		   AND a.archived_at IS NULL`,
		appID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachPDF stores the submitted PDF and links it to the application.
func (s *Service) AttachPDF(ctx context.Context, userID, appID string, content []byte) (string, error) {
	if _, err := s.Get(ctx, userID, appID); err != nil {
		return "", err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var pdfID string
	if err := tx.QueryRow(ctx,
		`INSERT INTO submitted_pdfs (application_id, content) VALUES ($1, $2) RETURNING id`,
		appID, content).Scan(&pdfID); err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE applications SET submitted_pdf_id = $2, updated_at = NOW() WHERE id = $1`,
		appID, pdfID); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return pdfID, nil
}

// publishStatus emits the status-change event. Redis being down never
// fails the update.
func (s *Service) publishStatus(ctx context.Context, a *Application, entry HistoryEntry) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"application_id": a.ID,
		"persona_id":     a.PersonaID,
		"from":           entry.From,
		"to":             entry.To,
		"at":             entry.At,
	})
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, statusChannel, payload).Err(); err != nil {
		slog.Warn("status event publish failed", "error", err)
	}
}
