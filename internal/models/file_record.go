package models

import "time"

// FileStatus captures the processing lifecycle of an uploaded CSV file.
type FileStatus string

const (
	FileStatusStaged        FileStatus = "staged"
	FileStatusArchiving     FileStatus = "archiving"
	FileStatusArchived      FileStatus = "archived"
	FileStatusArchiveFailed FileStatus = "archive_failed"
	FileStatusParseFailed   FileStatus = "parse_failed"
)

// FileRecord represents one uploaded file's metadata row.
type FileRecord struct {
	ID           string     `db:"id" json:"id"`
	OriginalName string     `db:"original_name" json:"original_name"`
	ReceivedAt   time.Time  `db:"received_at" json:"received_at"`
	RowCount     *int       `db:"row_count" json:"row_count,omitempty"`
	Status       FileStatus `db:"status" json:"status"`
	ArchiveKey   *string    `db:"archive_key" json:"archive_key,omitempty"`
	Attempts     int        `db:"attempts" json:"attempts"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FileFilter narrows listing queries.
type FileFilter struct {
	Status   FileStatus
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
