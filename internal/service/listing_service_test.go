package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sohlabs/soh-ingest-api/internal/dto"
	"github.com/sohlabs/soh-ingest-api/internal/models"
	appErrors "github.com/sohlabs/soh-ingest-api/pkg/errors"
	"github.com/sohlabs/soh-ingest-api/pkg/storage"
)

type stubListingStore struct {
	records map[string]*models.FileRecord
	listed  []models.FileRecord
	total   int
}

func (s *stubListingStore) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rec
	return &copied, nil
}

func (s *stubListingStore) List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error) {
	return s.listed, s.total, nil
}

type stubGetter struct {
	objects map[string]string
	gets    []string
}

func (s *stubGetter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.gets = append(s.gets, key)
	content, ok := s.objects[key]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

type memoryCacheRepo struct{}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	return appErrors.ErrCacheMiss
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func newListingFixture(t *testing.T) (*ListingService, *stubListingStore, *stubGetter, *storage.StagingStore) {
	t.Helper()
	staging, err := storage.NewStagingStore(t.TempDir())
	require.NoError(t, err)
	repo := &stubListingStore{records: map[string]*models.FileRecord{}}
	getter := &stubGetter{objects: map[string]string{}}
	cache := NewCacheService(&memoryCacheRepo{}, nil, time.Minute, nil, true)
	svc := NewListingService(repo, staging, getter, cache, nil, ListingServiceConfig{MaxPageSize: 500})
	return svc, repo, getter, staging
}

func stageContent(t *testing.T, staging *storage.StagingStore, id, content string) {
	t.Helper()
	_, err := staging.SpoolStream(id, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, staging.Publish(id))
}

func archivedRecord(id string) *models.FileRecord {
	rowCount := 3
	key := "uploads/2026/08/31/" + id + ".csv"
	return &models.FileRecord{
		ID:           id,
		OriginalName: "orders.csv",
		ReceivedAt:   time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
		RowCount:     &rowCount,
		Status:       models.FileStatusArchived,
		ArchiveKey:   &key,
		Attempts:     1,
	}
}

func TestListReturnsSummaries(t *testing.T) {
	svc, repo, _, _ := newListingFixture(t)
	repo.listed = []models.FileRecord{*archivedRecord("file-1")}
	repo.total = 1

	summaries, pagination, err := svc.List(context.Background(), models.FileFilter{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "file-1", summaries[0].ID)
	require.Equal(t, 1, pagination.TotalCount)
	require.Equal(t, 1, pagination.Page)
	require.Equal(t, 50, pagination.PageSize)
}

func TestGetUnknownFile(t *testing.T) {
	svc, _, _, _ := newListingFixture(t)

	_, err := svc.Get(context.Background(), "ghost")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRowsFromStagedCopy(t *testing.T) {
	svc, repo, _, staging := newListingFixture(t)
	rec := archivedRecord("file-1")
	rec.Status = models.FileStatusStaged
	rec.ArchiveKey = nil
	repo.records["file-1"] = rec
	stageContent(t, staging, "file-1", "id,name\n1,alpha\n2,beta\n3,gamma\n")

	resp, cacheHit, err := svc.Rows(context.Background(), "file-1", dto.RowsQuery{})
	require.NoError(t, err)
	require.False(t, cacheHit)
	require.Equal(t, []string{"id", "name"}, resp.Header)
	require.Len(t, resp.Rows, 3)
	require.Equal(t, 3, resp.RowCount)
}

func TestRowsPagination(t *testing.T) {
	svc, repo, _, staging := newListingFixture(t)
	rec := archivedRecord("file-1")
	rec.Status = models.FileStatusStaged
	rec.ArchiveKey = nil
	repo.records["file-1"] = rec
	stageContent(t, staging, "file-1", "id\n1\n2\n3\n")

	resp, _, err := svc.Rows(context.Background(), "file-1", dto.RowsQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"3"}}, resp.Rows)
}

func TestRowsFallsBackToArchive(t *testing.T) {
	svc, repo, getter, _ := newListingFixture(t)
	rec := archivedRecord("file-1")
	repo.records["file-1"] = rec
	getter.objects[*rec.ArchiveKey] = "id,name\n1,alpha\n2,beta\n3,gamma\n"

	resp, cacheHit, err := svc.Rows(context.Background(), "file-1", dto.RowsQuery{})
	require.NoError(t, err)
	require.False(t, cacheHit)
	require.Len(t, resp.Rows, 3)
	require.Equal(t, []string{*rec.ArchiveKey}, getter.gets)
}

type primedCacheRepo struct {
	resp dto.RowsResponse
}

func (p *primedCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	*dest.(*dto.RowsResponse) = p.resp
	return nil
}

func (p *primedCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func TestRowsServedFromCache(t *testing.T) {
	staging, err := storage.NewStagingStore(t.TempDir())
	require.NoError(t, err)
	repo := &stubListingStore{records: map[string]*models.FileRecord{"file-1": archivedRecord("file-1")}}
	getter := &stubGetter{objects: map[string]string{}}
	primed := &primedCacheRepo{resp: dto.RowsResponse{ID: "file-1", Header: []string{"id"}, RowCount: 3}}
	cache := NewCacheService(primed, nil, time.Minute, nil, true)
	svc := NewListingService(repo, staging, getter, cache, nil, ListingServiceConfig{MaxPageSize: 500})

	resp, cacheHit, err := svc.Rows(context.Background(), "file-1", dto.RowsQuery{})
	require.NoError(t, err)
	require.True(t, cacheHit)
	require.Equal(t, "file-1", resp.ID)
	// Neither the staging area nor the object store is touched on a hit.
	require.Empty(t, getter.gets)
}

func TestRowsRejectedForParseFailed(t *testing.T) {
	svc, repo, _, _ := newListingFixture(t)
	rec := archivedRecord("file-1")
	rec.Status = models.FileStatusParseFailed
	rec.RowCount = nil
	repo.records["file-1"] = rec

	_, _, err := svc.Rows(context.Background(), "file-1", dto.RowsQuery{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestDownloadPrefersStagedCopy(t *testing.T) {
	svc, repo, getter, staging := newListingFixture(t)
	rec := archivedRecord("file-1")
	repo.records["file-1"] = rec
	stageContent(t, staging, "file-1", "id\n1\n")

	result, err := svc.Download(context.Background(), "file-1")
	require.NoError(t, err)
	defer result.Content.Close()
	content, err := io.ReadAll(result.Content)
	require.NoError(t, err)
	require.Equal(t, "id\n1\n", string(content))
	require.Equal(t, "orders.csv", result.Filename)
	require.Equal(t, int64(5), result.SizeBytes)
	require.Empty(t, getter.gets)
}

func TestDownloadFallsBackToArchive(t *testing.T) {
	svc, repo, getter, _ := newListingFixture(t)
	rec := archivedRecord("file-1")
	repo.records["file-1"] = rec
	getter.objects[*rec.ArchiveKey] = "id\n1\n"

	result, err := svc.Download(context.Background(), "file-1")
	require.NoError(t, err)
	defer result.Content.Close()
	content, err := io.ReadAll(result.Content)
	require.NoError(t, err)
	require.Equal(t, "id\n1\n", string(content))
	require.Equal(t, []string{*rec.ArchiveKey}, getter.gets)
}

func TestDownloadMissingEverywhere(t *testing.T) {
	svc, repo, _, _ := newListingFixture(t)
	rec := archivedRecord("file-1")
	rec.Status = models.FileStatusArchiveFailed
	rec.ArchiveKey = nil
	repo.records["file-1"] = rec

	_, err := svc.Download(context.Background(), "file-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
