package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sohlabs/soh-ingest-api/internal/models"
	"github.com/sohlabs/soh-ingest-api/internal/parser"
	appErrors "github.com/sohlabs/soh-ingest-api/pkg/errors"
)

type ingestFileStore interface {
	Insert(ctx context.Context, rec *models.FileRecord) error
}

type ingestStagingStore interface {
	SpoolStream(id string, r io.Reader) (int64, error)
	Publish(id string) error
	Discard(id string) error
	Open(id string) (*os.File, error)
}

type ingestArchiver interface {
	Submit(id string) error
	Saturated() bool
}

type idGenerator func() string

// IngestRequest carries the upload to the coordinator.
type IngestRequest struct {
	OriginalName string `validate:"required"`
	Content      io.Reader
}

// IngestServiceConfig bounds upload handling.
type IngestServiceConfig struct {
	MaxFileSizeBytes int64
}

// IngestService coordinates ingestion: spool the upload, validate it, publish
// the staged copy, index the record, then hand off to the archival queue.
// The caller is never blocked on archival.
type IngestService struct {
	repo     ingestFileStore
	staging  ingestStagingStore
	archiver ingestArchiver
	metrics  *MetricsService
	validate *validator.Validate
	newID    idGenerator
	logger   *zap.Logger
	cfg      IngestServiceConfig
}

// NewIngestService constructs the coordinator.
func NewIngestService(repo ingestFileStore, staging ingestStagingStore, archiver ingestArchiver, metrics *MetricsService, newID idGenerator, logger *zap.Logger, cfg IngestServiceConfig) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		repo:     repo,
		staging:  staging,
		archiver: archiver,
		metrics:  metrics,
		validate: validator.New(),
		newID:    newID,
		logger:   logger,
		cfg:      cfg,
	}
}

// Ingest accepts raw bytes, parses them and stages the file. On parse
// failure a parse_failed record is indexed with no staged bytes retained.
// On success the record is staged and archival is enqueued.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*models.FileRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "original file name is required")
	}
	if req.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	// Reject up-front while the queue is saturated instead of staging work
	// that cannot be handed off.
	if s.archiver.Saturated() {
		s.recordIngest("busy")
		return nil, appErrors.ErrBusy
	}

	id := s.newID()

	size, err := s.staging.SpoolStream(id, req.Content)
	if err != nil {
		s.recordIngest("staging_error")
		return nil, appErrors.Wrap(err, appErrors.ErrStaging.Code, appErrors.ErrStaging.Status, appErrors.ErrStaging.Message)
	}
	if s.cfg.MaxFileSizeBytes > 0 && size > s.cfg.MaxFileSizeBytes {
		_ = s.staging.Discard(id)
		s.recordIngest("too_large")
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSizeBytes))
	}

	rowCount, parseErr := s.scanSpool(id)
	if parseErr != nil {
		var ve *parser.ValidationError
		if !errors.As(parseErr, &ve) {
			_ = s.staging.Discard(id)
			s.recordIngest("staging_error")
			return nil, appErrors.Wrap(parseErr, appErrors.ErrStaging.Code, appErrors.ErrStaging.Status, appErrors.ErrStaging.Message)
		}
		if err := s.staging.Discard(id); err != nil {
			s.logger.Sugar().Warnw("failed to discard spool after parse failure", "file_id", id, "error", err)
		}
		rec := &models.FileRecord{
			ID:           id,
			OriginalName: req.OriginalName,
			Status:       models.FileStatusParseFailed,
		}
		msg := parseErr.Error()
		rec.LastError = &msg
		if err := s.repo.Insert(ctx, rec); err != nil {
			s.logger.Sugar().Warnw("failed to index parse failure", "file_id", id, "error", err)
		}
		s.recordIngest("parse_failed")
		return rec, appErrors.Wrap(parseErr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, msg)
	}

	if err := s.staging.Publish(id); err != nil {
		_ = s.staging.Discard(id)
		s.recordIngest("staging_error")
		return nil, appErrors.Wrap(err, appErrors.ErrStaging.Code, appErrors.ErrStaging.Status, appErrors.ErrStaging.Message)
	}

	rec := &models.FileRecord{
		ID:           id,
		OriginalName: req.OriginalName,
		RowCount:     &rowCount,
		Status:       models.FileStatusStaged,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		s.recordIngest("index_error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to index file record")
	}

	if err := s.archiver.Submit(rec.ID); err != nil {
		// The record stays staged; recovery re-enqueues it. Ingestion itself
		// already succeeded.
		s.logger.Sugar().Warnw("archival handoff deferred", "file_id", rec.ID, "error", err)
	}

	s.recordIngest("staged")
	s.logger.Info("file ingested",
		zap.String("file_id", rec.ID),
		zap.String("original_name", rec.OriginalName),
		zap.Int("row_count", rowCount))
	return rec, nil
}

// scanSpool validates the spooled bytes without loading them into memory.
func (s *IngestService) scanSpool(id string) (int, error) {
	file, err := s.staging.Open(id)
	if err != nil {
		return 0, fmt.Errorf("open spool for parse: %w", err)
	}
	defer file.Close() //nolint:errcheck
	_, count, err := parser.Scan(file)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *IngestService) recordIngest(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordIngest(outcome)
	}
}

// SanitizeName trims path separators from a client-supplied file name.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
