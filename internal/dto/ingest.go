package dto

import (
	"time"

	"github.com/sohlabs/soh-ingest-api/internal/models"
)

// UploadResponse is returned synchronously from the upload endpoint.
// Archival state is observable later through the listing endpoints.
type UploadResponse struct {
	ID         string            `json:"id"`
	Status     models.FileStatus `json:"status"`
	RowCount   *int              `json:"row_count,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// FileSummary is one row of the processed-files listing.
type FileSummary struct {
	ID           string            `json:"id"`
	OriginalName string            `json:"original_name"`
	ReceivedAt   time.Time         `json:"received_at"`
	Status       models.FileStatus `json:"status"`
	RowCount     *int              `json:"row_count,omitempty"`
	ArchiveKey   *string           `json:"archive_key"`
	Attempts     int               `json:"attempts"`
	LastError    *string           `json:"last_error,omitempty"`
}

// ListFilesQuery captures listing query parameters.
type ListFilesQuery struct {
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// RowsQuery selects a page of parsed rows.
type RowsQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

// RowsResponse returns a page of parsed rows for one file.
type RowsResponse struct {
	ID       string     `json:"id"`
	Header   []string   `json:"header"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
}

// NewFileSummary converts a record to its listing shape.
func NewFileSummary(rec models.FileRecord) FileSummary {
	return FileSummary{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		ReceivedAt:   rec.ReceivedAt,
		Status:       rec.Status,
		RowCount:     rec.RowCount,
		ArchiveKey:   rec.ArchiveKey,
		Attempts:     rec.Attempts,
		LastError:    rec.LastError,
	}
}
