package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sohlabs/soh-ingest-api/internal/models"
)

// ErrStatusConflict signals a compare-and-set update whose expected statuses
// no longer match the stored row.
var ErrStatusConflict = errors.New("file status conflict")

// FileRepository persists file processing metadata. It is the single source
// of truth for status and serialises per-id transitions via UpdateStatus.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Insert stores a new file record with generated defaults.
func (r *FileRepository) Insert(ctx context.Context, rec *models.FileRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.FileStatusStaged
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.ReceivedAt
	}
	const query = `INSERT INTO files
	(id, original_name, received_at, row_count, status, archive_key, attempts, last_error, updated_at)
	VALUES (:id, :original_name, :received_at, :row_count, :status, :archive_key, :attempts, :last_error, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// GetByID retrieves one file record.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	const query = `SELECT id, original_name, received_at, row_count, status, archive_key, attempts, last_error, updated_at
	FROM files WHERE id = $1`
	var rec models.FileRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// StatusUpdate defines the fields mutated alongside a status transition.
type StatusUpdate struct {
	ArchiveKey        *string
	LastError         *string
	ClearError        bool
	IncrementAttempts bool
}

// UpdateStatus performs a compare-and-set transition: the row is updated only
// when its current status is one of the expected from statuses. An existing
// row in a different status yields ErrStatusConflict, an unknown id yields
// sql.ErrNoRows.
func (r *FileRepository) UpdateStatus(ctx context.Context, id string, from []models.FileStatus, to models.FileStatus, upd StatusUpdate) error {
	set := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{to}
	argPos := 2

	if upd.ArchiveKey != nil {
		set = append(set, fmt.Sprintf("archive_key = $%d", argPos))
		args = append(args, *upd.ArchiveKey)
		argPos++
	}
	if upd.LastError != nil {
		set = append(set, fmt.Sprintf("last_error = $%d", argPos))
		args = append(args, *upd.LastError)
		argPos++
	} else if upd.ClearError {
		set = append(set, "last_error = NULL")
	}
	if upd.IncrementAttempts {
		set = append(set, "attempts = attempts + 1")
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE files SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	argPos++

	placeholders := make([]string, 0, len(from))
	for _, status := range from {
		placeholders = append(placeholders, fmt.Sprintf("$%d", argPos))
		args = append(args, status)
		argPos++
	}
	if len(placeholders) > 0 {
		query += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ", "))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check file status rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

// List returns records ordered by received_at descending with the total count.
func (r *FileRepository) List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error) {
	conditions := make([]string, 0, 1)
	args := make([]interface{}, 0, 1)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM files"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT id, original_name, received_at, row_count, status, archive_key, attempts, last_error, updated_at
	FROM files%s ORDER BY received_at DESC LIMIT %d OFFSET %d`, where, pageSize, (page-1)*pageSize)

	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	return records, total, nil
}

// ListByStatus fetches records in a given status, oldest first. Used for
// cold start recovery of staged files that never reached the queue.
func (r *FileRepository) ListByStatus(ctx context.Context, status models.FileStatus, limit int) ([]models.FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, original_name, received_at, row_count, status, archive_key, attempts, last_error, updated_at
	FROM files WHERE status = $1 ORDER BY received_at ASC LIMIT $2`
	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query, status, limit); err != nil {
		return nil, fmt.Errorf("list files by status: %w", err)
	}
	return records, nil
}

// ListStaleArchiving returns records stuck in archiving since before the
// cutoff. A crashed worker leaves rows in this state; the janitor fails and
// re-enqueues them.
func (r *FileRepository) ListStaleArchiving(ctx context.Context, cutoff time.Time, limit int) ([]models.FileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, original_name, received_at, row_count, status, archive_key, attempts, last_error, updated_at
	FROM files WHERE status = 'archiving' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2`
	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale archiving files: %w", err)
	}
	return records, nil
}
