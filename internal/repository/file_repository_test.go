package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sohlabs/soh-ingest-api/internal/models"
)

func newFileRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func fileColumns() []string {
	return []string{"id", "original_name", "received_at", "row_count", "status", "archive_key", "attempts", "last_error", "updated_at"}
}

func TestFileRepositoryInsertDefaults(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO files")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rowCount := 12
	rec := &models.FileRecord{OriginalName: "orders.csv", RowCount: &rowCount}
	require.NoError(t, repo.Insert(context.Background(), rec))
	require.NotEmpty(t, rec.ID)
	require.Equal(t, models.FileStatusStaged, rec.Status)
	require.False(t, rec.ReceivedAt.IsZero())
	require.Equal(t, rec.ReceivedAt, rec.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(fileColumns()).
		AddRow("file-1", "orders.csv", now, 10, "staged", nil, 0, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, original_name, received_at")).
		WithArgs("file-1").
		WillReturnRows(rows)

	rec, err := repo.GetByID(context.Background(), "file-1")
	require.NoError(t, err)
	require.Equal(t, "file-1", rec.ID)
	require.Equal(t, models.FileStatusStaged, rec.Status)
	require.NotNil(t, rec.RowCount)
	require.Equal(t, 10, *rec.RowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, original_name, received_at")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryUpdateStatusTransition(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET status = $1, updated_at = NOW(), attempts = attempts + 1 WHERE id = $2 AND status IN ($3, $4)")).
		WithArgs("archiving", "file-1", "staged", "archive_failed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "file-1",
		[]models.FileStatus{models.FileStatusStaged, models.FileStatusArchiveFailed},
		models.FileStatusArchiving,
		StatusUpdate{IncrementAttempts: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryUpdateStatusSetsArchiveKey(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	key := "uploads/2026/08/31/file-1.csv"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET status = $1, updated_at = NOW(), archive_key = $2, last_error = NULL WHERE id = $3 AND status IN ($4)")).
		WithArgs("archived", key, "file-1", "archiving").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "file-1",
		[]models.FileStatus{models.FileStatusArchiving},
		models.FileStatusArchived,
		StatusUpdate{ArchiveKey: &key, ClearError: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryUpdateStatusConflict(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	now := time.Now()
	rows := sqlmock.NewRows(fileColumns()).
		AddRow("file-1", "orders.csv", now, 10, "archived", "uploads/k", 1, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, original_name, received_at")).
		WithArgs("file-1").
		WillReturnRows(rows)

	err := repo.UpdateStatus(context.Background(), "file-1",
		[]models.FileStatus{models.FileStatusArchiving},
		models.FileStatusArchived,
		StatusUpdate{})
	require.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryUpdateStatusUnknownID(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, original_name, received_at")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateStatus(context.Background(), "missing",
		[]models.FileStatus{models.FileStatusStaged},
		models.FileStatusArchiving,
		StatusUpdate{})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryListWithStatusFilter(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM files WHERE status = $1")).
		WithArgs("archived").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	now := time.Now()
	rows := sqlmock.NewRows(fileColumns()).
		AddRow("file-1", "orders.csv", now, 10, "archived", "uploads/k", 1, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY received_at DESC LIMIT 50 OFFSET 0")).
		WithArgs("archived").
		WillReturnRows(rows)

	records, total, err := repo.List(context.Background(), models.FileFilter{Status: models.FileStatusArchived})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
	require.Equal(t, "file-1", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryListStaleArchiving(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	repo := NewFileRepository(db)
	cutoff := time.Now().Add(-10 * time.Minute)
	now := time.Now()
	rows := sqlmock.NewRows(fileColumns()).
		AddRow("file-1", "orders.csv", now.Add(-time.Hour), 10, "archiving", nil, 2, nil, now.Add(-20*time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("status = 'archiving' AND updated_at < $1")).
		WithArgs(cutoff, 50).
		WillReturnRows(rows)

	records, err := repo.ListStaleArchiving(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, models.FileStatusArchiving, records[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
