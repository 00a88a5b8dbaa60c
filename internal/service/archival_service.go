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

	"github.com/sohlabs/soh-ingest-api/internal/models"
	"github.com/sohlabs/soh-ingest-api/internal/repository"
	appErrors "github.com/sohlabs/soh-ingest-api/pkg/errors"
	"github.com/sohlabs/soh-ingest-api/pkg/jobs"
)

type archivalFileStore interface {
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	UpdateStatus(ctx context.Context, id string, from []models.FileStatus, to models.FileStatus, upd repository.StatusUpdate) error
	ListByStatus(ctx context.Context, status models.FileStatus, limit int) ([]models.FileRecord, error)
	ListStaleArchiving(ctx context.Context, cutoff time.Time, limit int) ([]models.FileRecord, error)
}

type archivalStagingStore interface {
	Open(id string) (*os.File, error)
	Size(id string) (int64, error)
}

type objectPutter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
}

type archivalDispatcher interface {
	TryEnqueue(job jobs.Job) error
	Saturated() bool
	Started() bool
	Depth() int
}

// ArchivalServiceConfig tunes retry and recovery behaviour.
type ArchivalServiceConfig struct {
	MaxAttempts     int
	StaleAfter      time.Duration
	JanitorInterval time.Duration
}

// ArchivalService drains the archival queue: it streams staged files to the
// remote object store and advances record status through the
// staged -> archiving -> archived | archive_failed state machine via
// compare-and-set transitions.
type ArchivalService struct {
	repo    archivalFileStore
	staging archivalStagingStore
	store   objectPutter
	queue   archivalDispatcher
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ArchivalServiceConfig
}

// NewArchivalService constructs the service.
func NewArchivalService(repo archivalFileStore, staging archivalStagingStore, store objectPutter, queue archivalDispatcher, metrics *MetricsService, logger *zap.Logger, cfg ArchivalServiceConfig) *ArchivalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &ArchivalService{
		repo:    repo,
		staging: staging,
		store:   store,
		queue:   queue,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// ArchiveKey derives the deterministic remote key for a record. Retries of
// the same record always target the same object.
func ArchiveKey(rec *models.FileRecord) string {
	return fmt.Sprintf("uploads/%s/%s.csv", rec.ReceivedAt.UTC().Format("2006/01/02"), rec.ID)
}

// Submit enqueues a record for archival without blocking. A saturated queue
// is reported as Busy so ingestion can reject instead of buffering.
func (s *ArchivalService) Submit(id string) error {
	err := s.queue.TryEnqueue(jobs.Job{ID: id, Type: "archive"})
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return appErrors.ErrBusy
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue archival")
	}
	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.queue.Depth())
	}
	return nil
}

// Saturated reports whether new ingestion should be rejected.
func (s *ArchivalService) Saturated() bool {
	return s.queue.Saturated()
}

// Ready reports whether the worker pool is consuming.
func (s *ArchivalService) Ready() bool {
	return s.queue.Started()
}

// Process handles one archival job. Returning an error makes the queue retry
// with exponential backoff; terminal outcomes return nil.
func (s *ArchivalService) Process(ctx context.Context, job jobs.Job) error {
	rec, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("archival job for unknown file", zap.String("file_id", job.ID))
			return nil
		}
		return fmt.Errorf("load file record: %w", err)
	}

	// Claim the record. Losing the CAS means another worker or a newer state
	// owns it; the loser must not touch attempts or last_error.
	err = s.repo.UpdateStatus(ctx, rec.ID,
		[]models.FileStatus{models.FileStatusStaged, models.FileStatusArchiveFailed},
		models.FileStatusArchiving,
		repository.StatusUpdate{IncrementAttempts: true},
	)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.logger.Debug("archival claim lost", zap.String("file_id", rec.ID), zap.String("status", string(rec.Status)))
			return nil
		}
		return fmt.Errorf("claim file for archiving: %w", err)
	}

	key := ArchiveKey(rec)
	if uploadErr := s.upload(ctx, rec.ID, key); uploadErr != nil {
		s.markFailed(ctx, rec.ID, uploadErr)
		if s.metrics != nil {
			s.metrics.RecordArchival("failed")
		}
		if rec.Attempts+1 >= s.cfg.MaxAttempts {
			// Out of automatic retries: the record stays archive_failed
			// until an operator re-enqueues it.
			s.logger.Error("archival exhausted retries",
				zap.String("file_id", rec.ID),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(uploadErr))
			return nil
		}
		return uploadErr
	}

	err = s.repo.UpdateStatus(ctx, rec.ID,
		[]models.FileStatus{models.FileStatusArchiving},
		models.FileStatusArchived,
		repository.StatusUpdate{ArchiveKey: &key, ClearError: true},
	)
	if err != nil {
		// The upload itself is idempotent, so a lost finishing CAS (janitor
		// re-enqueued a slow transfer) is safe to drop.
		s.logger.Warn("archived transition lost", zap.String("file_id", rec.ID), zap.Error(err))
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordArchival("archived")
	}
	s.logger.Info("file archived", zap.String("file_id", rec.ID), zap.String("archive_key", key))
	return nil
}

// Retry re-enqueues an archive_failed record (operator-triggered).
func (s *ArchivalService) Retry(ctx context.Context, id string) (*models.FileRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file record")
	}
	if rec.Status != models.FileStatusArchiveFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("file is %s, only archive_failed can be retried", rec.Status))
	}
	if err := s.Submit(rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// Recover re-enqueues records a previous process left behind: anything still
// staged, plus archiving rows older than the staleness threshold.
func (s *ArchivalService) Recover(ctx context.Context) {
	staged, err := s.repo.ListByStatus(ctx, models.FileStatusStaged, 100)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover staged files", "error", err)
	} else {
		for _, rec := range staged {
			if err := s.Submit(rec.ID); err != nil {
				s.logger.Sugar().Warnw("failed to requeue staged file", "file_id", rec.ID, "error", err)
			}
		}
	}
	s.sweepStale(ctx)
}

// StartJanitor boots a goroutine that periodically fails and re-enqueues
// records stuck in archiving beyond the staleness threshold.
func (s *ArchivalService) StartJanitor(ctx context.Context) {
	if s.cfg.JanitorInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepStale(ctx)
			}
		}
	}()
}

func (s *ArchivalService) sweepStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.repo.ListStaleArchiving(ctx, cutoff, 100)
	if err != nil {
		s.logger.Sugar().Warnw("stale archiving sweep failed", "error", err)
		return
	}
	for _, rec := range stale {
		msg := "archiving timed out"
		err := s.repo.UpdateStatus(ctx, rec.ID,
			[]models.FileStatus{models.FileStatusArchiving},
			models.FileStatusArchiveFailed,
			repository.StatusUpdate{LastError: &msg},
		)
		if err != nil {
			if !errors.Is(err, repository.ErrStatusConflict) {
				s.logger.Sugar().Warnw("failed to expire stale archiving", "file_id", rec.ID, "error", err)
			}
			continue
		}
		s.logger.Warn("stale archiving record re-enqueued", zap.String("file_id", rec.ID))
		if err := s.Submit(rec.ID); err != nil {
			s.logger.Sugar().Warnw("failed to requeue stale file", "file_id", rec.ID, "error", err)
		}
	}

	// A re-enqueue rejected by a full queue leaves the record archive_failed
	// with no pending job, so each sweep also picks up failed records that
	// still have automatic attempts left. Exhausted ones wait for an
	// operator retry.
	failed, err := s.repo.ListByStatus(ctx, models.FileStatusArchiveFailed, 100)
	if err != nil {
		s.logger.Sugar().Warnw("archive_failed sweep failed", "error", err)
		return
	}
	for _, rec := range failed {
		if rec.Attempts >= s.cfg.MaxAttempts {
			continue
		}
		if err := s.Submit(rec.ID); err != nil {
			s.logger.Sugar().Warnw("failed to requeue failed file", "file_id", rec.ID, "error", err)
		}
	}
}

func (s *ArchivalService) upload(ctx context.Context, id, key string) error {
	file, err := s.staging.Open(id)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	size, err := s.staging.Size(id)
	if err != nil {
		return fmt.Errorf("stat staged file: %w", err)
	}
	if err := s.store.Put(ctx, key, file, size); err != nil {
		return fmt.Errorf("upload to object store: %w", err)
	}
	return nil
}

func (s *ArchivalService) markFailed(ctx context.Context, id string, cause error) {
	msg := cause.Error()
	err := s.repo.UpdateStatus(ctx, id,
		[]models.FileStatus{models.FileStatusArchiving},
		models.FileStatusArchiveFailed,
		repository.StatusUpdate{LastError: &msg},
	)
	if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
		s.logger.Sugar().Warnw("failed to mark archive failure", "file_id", id, "error", err)
	}
}
