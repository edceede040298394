package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-regcode-api/internal/models"
)

// CodeRepository handles persistence of registration codes. All mutation
// of the registration_codes table goes through this type; the unique
// index on code is the backstop for every uniqueness guarantee.
type CodeRepository struct {
	db *sqlx.DB
}

// NewCodeRepository constructs the repository.
func NewCodeRepository(db *sqlx.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// InsertIfAbsent reserves a code in a single conditional insert. It
// returns false when the code value already exists, leaving the existing
// row untouched. Generation and reservation are atomic through this path
// so two concurrent generators proposing the same suffix cannot both win.
func (r *CodeRepository) InsertIfAbsent(ctx context.Context, code *models.RegistrationCode) (bool, error) {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	if code.Status == "" {
		code.Status = models.CodeStatusActive
	}
	const query = `INSERT INTO registration_codes (id, code, group_name, created_by, created_at, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (code) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, code.ID, code.Code, code.GroupName, code.CreatedBy, code.CreatedAt, code.Status)
	if err != nil {
		return false, fmt.Errorf("insert registration code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert registration code affected rows: %w", err)
	}
	return affected == 1, nil
}

// Exists reports whether a code value is already stored.
func (r *CodeRepository) Exists(ctx context.Context, code string) (bool, error) {
	const query = `SELECT 1 FROM registration_codes WHERE code = $1 LIMIT 1`
	var one int
	if err := r.db.GetContext(ctx, &one, query, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check code exists: %w", err)
	}
	return true, nil
}

// FilterExisting returns the subset of the given code values that are
// already stored. Queries run in bounded chunks to keep statements small.
func (r *CodeRepository) FilterExisting(ctx context.Context, codes []string) (map[string]bool, error) {
	if len(codes) == 0 {
		return map[string]bool{}, nil
	}
	const chunkSize = 100
	existing := make(map[string]bool, len(codes))
	for start := 0; start < len(codes); start += chunkSize {
		end := start + chunkSize
		if end > len(codes) {
			end = len(codes)
		}
		chunk := codes[start:end]
		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, code := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = code
		}
		query := fmt.Sprintf("SELECT code FROM registration_codes WHERE code IN (%s)", strings.Join(placeholders, ","))
		rows, err := r.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("filter existing codes: %w", err)
		}
		for rows.Next() {
			var code string
			if err := rows.Scan(&code); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan existing code: %w", err)
			}
			existing[code] = true
		}
		rows.Close()
	}
	return existing, nil
}

// BulkInsertChunk inserts a chunk of codes in a single transaction. The
// whole chunk commits or the whole chunk rolls back; duplicate filtering
// happens upstream, so a unique violation here is surfaced as an error.
func (r *CodeRepository) BulkInsertChunk(ctx context.Context, codes []models.RegistrationCode) error {
	if len(codes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin code chunk: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()
	const query = `INSERT INTO registration_codes (id, code, group_name, created_by, created_at, status)
VALUES (:id, :code, :group_name, :created_by, :created_at, :status)`
	now := time.Now().UTC()
	for i := range codes {
		code := &codes[i]
		if code.ID == "" {
			code.ID = uuid.NewString()
		}
		if code.CreatedAt.IsZero() {
			code.CreatedAt = now
		}
		if code.Status == "" {
			code.Status = models.CodeStatusActive
		}
		if _, err := tx.NamedExecContext(ctx, query, code); err != nil {
			return fmt.Errorf("insert code chunk row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit code chunk: %w", err)
	}
	commit = true
	return nil
}

// FindByCode returns a code record by its token value.
func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*models.RegistrationCode, error) {
	const query = `SELECT id, code, group_name, created_by, created_at, status, used_by, used_at
FROM registration_codes WHERE code = $1`
	var record models.RegistrationCode
	if err := r.db.GetContext(ctx, &record, query, code); err != nil {
		return nil, err
	}
	return &record, nil
}

// Redeem atomically transitions one active code to used, setting used_by
// and used_at together. It returns false when no row changed, which means
// the code is either missing or already used.
func (r *CodeRepository) Redeem(ctx context.Context, code, redeemerID string, usedAt time.Time) (bool, error) {
	const query = `UPDATE registration_codes SET status = $2, used_by = $3, used_at = $4
WHERE code = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, code, models.CodeStatusUsed, redeemerID, usedAt, models.CodeStatusActive)
	if err != nil {
		return false, fmt.Errorf("redeem code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("redeem code affected rows: %w", err)
	}
	return affected == 1, nil
}

// List returns codes filtered by the provided criteria with a paired
// total count for pagination.
func (r *CodeRepository) List(ctx context.Context, filter models.CodeFilter) ([]models.RegistrationCode, int, error) {
	clause, args := buildCodeFilter(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, code, group_name, created_by, created_at, status, used_by, used_at
FROM registration_codes%s ORDER BY created_at DESC, code ASC LIMIT %d OFFSET %d`, clause, size, offset)

	var codes []models.RegistrationCode
	if err := r.db.SelectContext(ctx, &codes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list codes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM registration_codes%s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count codes: %w", err)
	}
	return codes, total, nil
}

// ListForExport returns filtered codes joined with creator and redeemer
// display names, unpaginated, in stable order.
func (r *CodeRepository) ListForExport(ctx context.Context, filter models.CodeFilter) ([]models.CodeExportRow, error) {
	var conditions []string
	var args []interface{}
	if filter.GroupName != "" {
		conditions = append(conditions, fmt.Sprintf("rc.group_name = $%d", len(args)+1))
		args = append(args, filter.GroupName)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("rc.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("rc.created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT rc.code, rc.group_name, COALESCE(cu.full_name, rc.created_by) AS created_by_name,
rc.created_at, rc.status, uu.full_name AS used_by_name, rc.used_at
FROM registration_codes rc
LEFT JOIN users cu ON cu.id = rc.created_by
LEFT JOIN users uu ON uu.id = rc.used_by%s ORDER BY rc.created_at DESC, rc.code ASC`, clause)
	var rows []models.CodeExportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list codes for export: %w", err)
	}
	return rows, nil
}

// ListGroups returns the distinct non-empty group labels across all
// codes, ascending. Groups are a projection: a label exists only while
// at least one code references it.
func (r *CodeRepository) ListGroups(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT group_name FROM registration_codes WHERE group_name <> '' ORDER BY group_name ASC`
	var groups []string
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListGroupsFor restricts the group projection to one creator's codes.
func (r *CodeRepository) ListGroupsFor(ctx context.Context, creatorID string) ([]string, error) {
	const query = `SELECT DISTINCT group_name FROM registration_codes WHERE group_name <> '' AND created_by = $1 ORDER BY group_name ASC`
	var groups []string
	if err := r.db.SelectContext(ctx, &groups, query, creatorID); err != nil {
		return nil, fmt.Errorf("list groups for creator: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes every code with the exact label and returns the
// number of deleted rows. An unknown label deletes zero rows; that is
// not an error.
func (r *CodeRepository) DeleteGroup(ctx context.Context, groupName string) (int, error) {
	const query = `DELETE FROM registration_codes WHERE group_name = $1`
	res, err := r.db.ExecContext(ctx, query, groupName)
	if err != nil {
		return 0, fmt.Errorf("delete group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete group affected rows: %w", err)
	}
	return int(affected), nil
}

func buildCodeFilter(filter models.CodeFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.GroupName != "" {
		conditions = append(conditions, fmt.Sprintf("group_name = $%d", len(args)+1))
		args = append(args, filter.GroupName)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
