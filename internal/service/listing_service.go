package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sohlabs/soh-ingest-api/internal/dto"
	"github.com/sohlabs/soh-ingest-api/internal/models"
	"github.com/sohlabs/soh-ingest-api/internal/parser"
	appErrors "github.com/sohlabs/soh-ingest-api/pkg/errors"
)

type listingFileStore interface {
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error)
}

type listingStagingStore interface {
	Open(id string) (*os.File, error)
	Exists(id string) bool
	Size(id string) (int64, error)
}

type objectGetter interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// FileDownload bundles the original bytes for streaming back to the client.
type FileDownload struct {
	Content   io.ReadCloser
	Filename  string
	SizeBytes int64
}

// ListingServiceConfig bounds row paging and cache TTL.
type ListingServiceConfig struct {
	RowCacheTTL time.Duration
	MaxPageSize int
}

// ListingService is the read path over the metadata index and staged bytes.
// Rows are never persisted separately: they are re-derived by re-parsing the
// staged (or archived) copy, which is cheap and deterministic.
type ListingService struct {
	repo    listingFileStore
	staging listingStagingStore
	store   objectGetter
	cache   *CacheService
	logger  *zap.Logger
	cfg     ListingServiceConfig
}

// NewListingService constructs the read-path service.
func NewListingService(repo listingFileStore, staging listingStagingStore, store objectGetter, cache *CacheService, logger *zap.Logger, cfg ListingServiceConfig) *ListingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	return &ListingService{
		repo:    repo,
		staging: staging,
		store:   store,
		cache:   cache,
		logger:  logger,
		cfg:     cfg,
	}
}

// List returns processed-file summaries, newest first.
func (s *ListingService) List(ctx context.Context, filter models.FileFilter) ([]dto.FileSummary, *models.Pagination, error) {
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	summaries := make([]dto.FileSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, dto.NewFileSummary(rec))
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return summaries, pagination, nil
}

// Get returns one record.
func (s *ListingService) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file record")
	}
	return rec, nil
}

// Rows re-parses the original bytes and returns one page of data rows. The
// boolean reports whether the page came from cache.
func (s *ListingService) Rows(ctx context.Context, id string, query dto.RowsQuery) (*dto.RowsResponse, bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if rec.RowCount == nil {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "file failed parsing, no rows available")
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > s.cfg.MaxPageSize {
		pageSize = 100
	}

	cacheKey := fmt.Sprintf("rows:%s:%d:%d", id, page, pageSize)
	var cached dto.RowsResponse
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, true, nil
	}

	content, err := s.openContent(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	defer content.Close() //nolint:errcheck

	rows, err := parser.NewRows(content)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "staged file no longer parses")
	}

	skip := (page - 1) * pageSize
	collected := make([][]string, 0, pageSize)
	for i := 0; len(collected) < pageSize; i++ {
		row, err := rows.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "staged file no longer parses")
		}
		if i < skip {
			continue
		}
		collected = append(collected, row)
	}

	resp := &dto.RowsResponse{
		ID:       rec.ID,
		Header:   rows.Header(),
		Rows:     collected,
		RowCount: *rec.RowCount,
	}
	if err := s.cache.Set(ctx, cacheKey, resp, s.cfg.RowCacheTTL); err != nil {
		s.logger.Debug("row cache write failed", zap.String("file_id", id), zap.Error(err))
	}
	return resp, false, nil
}

// Download returns the original bytes, preferring the local staged copy and
// falling back to the remote archive when the staged copy has been pruned.
func (s *ListingService) Download(ctx context.Context, id string) (*FileDownload, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.staging.Exists(rec.ID) {
		file, err := s.staging.Open(rec.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open staged file")
		}
		size, err := s.staging.Size(rec.ID)
		if err != nil {
			size = -1
		}
		return &FileDownload{Content: file, Filename: rec.OriginalName, SizeBytes: size}, nil
	}
	if rec.ArchiveKey == nil {
		return nil, appErrors.ErrNotFound
	}
	body, err := s.store.Get(ctx, *rec.ArchiveKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransfer.Code, appErrors.ErrTransfer.Status, "failed to fetch archived copy")
	}
	return &FileDownload{Content: body, Filename: rec.OriginalName, SizeBytes: -1}, nil
}

// openContent resolves a readable byte source for the record.
func (s *ListingService) openContent(ctx context.Context, rec *models.FileRecord) (io.ReadCloser, error) {
	if s.staging.Exists(rec.ID) {
		file, err := s.staging.Open(rec.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open staged file")
		}
		return file, nil
	}
	if rec.ArchiveKey == nil {
		return nil, appErrors.ErrNotFound
	}
	body, err := s.store.Get(ctx, *rec.ArchiveKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransfer.Code, appErrors.ErrTransfer.Status, "failed to fetch archived copy")
	}
	return body, nil
}
