package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sohlabs/soh-ingest-api/internal/dto"
	"github.com/sohlabs/soh-ingest-api/internal/middleware"
	"github.com/sohlabs/soh-ingest-api/internal/models"
	"github.com/sohlabs/soh-ingest-api/internal/parser"
	"github.com/sohlabs/soh-ingest-api/internal/service"
	appErrors "github.com/sohlabs/soh-ingest-api/pkg/errors"
	"github.com/sohlabs/soh-ingest-api/pkg/response"
)

type ingestService interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*models.FileRecord, error)
}

type listingService interface {
	List(ctx context.Context, filter models.FileFilter) ([]dto.FileSummary, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	Rows(ctx context.Context, id string, query dto.RowsQuery) (*dto.RowsResponse, bool, error)
	Download(ctx context.Context, id string) (*service.FileDownload, error)
}

type retryService interface {
	Retry(ctx context.Context, id string) (*models.FileRecord, error)
}

// FileHandler manages the file ingestion and read endpoints.
type FileHandler struct {
	ingest  ingestService
	listing listingService
	retry   retryService
}

// NewFileHandler constructs the handler.
func NewFileHandler(ingest ingestService, listing listingService, retry retryService) *FileHandler {
	return &FileHandler{ingest: ingest, listing: listing, retry: retry}
}

// Upload godoc
// @Summary Upload a CSV file
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	if h.ingest == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "ingest service not configured"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload"))
		return
	}
	defer src.Close() //nolint:errcheck

	req := service.IngestRequest{
		OriginalName: service.SanitizeName(fileHeader.Filename),
		Content:      src,
	}
	rec, err := h.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		// A parse failure is still indexed, so surface the record id
		// alongside the validation error when one was created.
		if rec != nil {
			appErr := appErrors.FromError(err)
			meta := map[string]interface{}{"error": appErr.Message}
			var parseErr *parser.ValidationError
			if errors.As(err, &parseErr) {
				meta["line"] = parseErr.Line
				meta["reason"] = parseErr.Reason
			}
			response.JSON(c, appErr.Status, dto.UploadResponse{
				ID:         rec.ID,
				Status:     rec.Status,
				ReceivedAt: rec.ReceivedAt,
			}, nil, meta)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, dto.UploadResponse{
		ID:         rec.ID,
		Status:     rec.Status,
		RowCount:   rec.RowCount,
		ReceivedAt: rec.ReceivedAt,
	}, nil)
}

// List godoc
// @Summary List processed files
// @Tags Files
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) List(c *gin.Context) {
	if h.listing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "listing service not configured"))
		return
	}
	var query dto.ListFilesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid listing query"))
		return
	}
	filter := models.FileFilter{Page: query.Page, PageSize: query.PageSize}
	if status := strings.TrimSpace(query.Status); status != "" {
		filter.Status = models.FileStatus(status)
	}
	summaries, pagination, err := h.listing.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, pagination)
}

// Get godoc
// @Summary Get file metadata
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	if h.listing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "listing service not configured"))
		return
	}
	rec, err := h.listing.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	summary := dto.NewFileSummary(*rec)
	response.JSON(c, http.StatusOK, summary, nil)
}

// Rows godoc
// @Summary Get parsed rows of a file
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /files/{id}/rows [get]
func (h *FileHandler) Rows(c *gin.Context) {
	if h.listing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "listing service not configured"))
		return
	}
	var query dto.RowsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rows query"))
		return
	}
	rows, cacheHit, err := h.listing.Rows(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	response.JSON(c, http.StatusOK, rows, nil, meta)
}

// Download godoc
// @Summary Download the original file bytes
// @Tags Files
// @Produce octet-stream
// @Param id path string true "File ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /files/{id}/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	if h.listing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "listing service not configured"))
		return
	}
	result, err := h.listing.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Content.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, "text/csv", result.Content, nil)
}

// Retry godoc
// @Summary Re-enqueue archival for a failed file
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /files/{id}/retry [post]
func (h *FileHandler) Retry(c *gin.Context) {
	if h.retry == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "archival service not configured"))
		return
	}
	rec, err := h.retry.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, dto.NewFileSummary(*rec), nil)
}
