package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-regcode-api/internal/models"
)

// ImportLogRepository persists bulk-import job metadata.
type ImportLogRepository struct {
	db *sqlx.DB
}

// NewImportLogRepository constructs the repository.
func NewImportLogRepository(db *sqlx.DB) *ImportLogRepository {
	return &ImportLogRepository{db: db}
}

// Create inserts a new import log row with generated defaults.
func (r *ImportLogRepository) Create(ctx context.Context, log *models.ImportLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = models.ImportStatusProcessing
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO import_logs (id, group_name, user_id, status, started_at, completed_at, total, imported, skipped, skip_samples, error_message)
VALUES (:id, :group_name, :user_id, :status, :started_at, :completed_at, :total, :imported, :skipped, :skip_samples, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create import log: %w", err)
	}
	return nil
}

// GetByID returns a log row by its identifier.
func (r *ImportLogRepository) GetByID(ctx context.Context, id string) (*models.ImportLog, error) {
	const query = `SELECT id, group_name, user_id, status, started_at, completed_at, total, imported, skipped, skip_samples, error_message
FROM import_logs WHERE id = $1`
	var log models.ImportLog
	if err := r.db.GetContext(ctx, &log, query, id); err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateImportLogParams defines the mutable fields. Counters are written
// as absolute cumulative values, never deltas, so readers observe
// monotonically non-decreasing progress.
type UpdateImportLogParams struct {
	Status       *models.ImportStatus
	Total        *int
	Imported     *int
	Skipped      *int
	SkipSamples  *models.SkipSamples
	CompletedAt  *time.Time
	ErrorMessage *string
}

// Update persists the provided changes for a log row.
func (r *ImportLogRepository) Update(ctx context.Context, id string, params UpdateImportLogParams) error {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Total != nil {
		set = append(set, fmt.Sprintf("total = $%d", argPos))
		args = append(args, *params.Total)
		argPos++
	}
	if params.Imported != nil {
		set = append(set, fmt.Sprintf("imported = $%d", argPos))
		args = append(args, *params.Imported)
		argPos++
	}
	if params.Skipped != nil {
		set = append(set, fmt.Sprintf("skipped = $%d", argPos))
		args = append(args, *params.Skipped)
		argPos++
	}
	if params.SkipSamples != nil {
		set = append(set, fmt.Sprintf("skip_samples = $%d", argPos))
		args = append(args, *params.SkipSamples)
		argPos++
	}
	if params.CompletedAt != nil {
		set = append(set, fmt.Sprintf("completed_at = $%d", argPos))
		args = append(args, *params.CompletedAt)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE import_logs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update import log: %w", err)
	}
	return nil
}

// List returns recent import logs, optionally restricted to one
// initiator, newest first.
func (r *ImportLogRepository) List(ctx context.Context, userID string, limit int) ([]models.ImportLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT id, group_name, user_id, status, started_at, completed_at, total, imported, skipped, skip_samples, error_message
FROM import_logs`
	args := []interface{}{}
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT %d", limit)
	var logs []models.ImportLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("list import logs: %w", err)
	}
	return logs, nil
}
