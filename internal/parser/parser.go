// Package parser validates and parses uploaded CSV content. It is
// side-effect free: callers hand it a byte source and consume rows lazily,
// so re-parsing a staged file restarts the sequence from the top.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Validation failure reasons surfaced to clients.
const (
	ReasonEmptyInput     = "empty_input"
	ReasonColumnMismatch = "column_mismatch"
	ReasonBadCSV         = "bad_csv"
)

// ValidationError identifies the offending line and reason of a parse failure.
type ValidationError struct {
	Line   int
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Unwrap returns the underlying csv error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Rows is a lazy sequence of parsed data rows. The header has already been
// consumed when a Rows is returned.
type Rows struct {
	reader *csv.Reader
	header []string
}

// NewRows reads the header line and returns a lazy row sequence. An empty
// input fails with reason empty_input.
func NewRows(r io.Reader) (*Rows, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ValidationError{Line: 1, Reason: ReasonEmptyInput}
		}
		return nil, wrapCSVError(err)
	}
	return &Rows{reader: cr, header: header}, nil
}

// Header returns the column names from the first line.
func (rows *Rows) Header() []string {
	return rows.header
}

// Next produces the next data row. It returns io.EOF when the input is
// exhausted and a *ValidationError on malformed content.
func (rows *Rows) Next() ([]string, error) {
	record, err := rows.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, wrapCSVError(err)
	}
	return record, nil
}

// Scan validates the full input and returns the header and data row count.
// Used at ingestion time; row content is re-derived later by NewRows.
func Scan(r io.Reader) ([]string, int, error) {
	rows, err := NewRows(r)
	if err != nil {
		return nil, 0, err
	}
	count := 0
	for {
		if _, err := rows.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return rows.Header(), count, nil
			}
			return nil, 0, err
		}
		count++
	}
}

// wrapCSVError maps csv parse errors onto the validation taxonomy keeping
// the 1-based line number reported by encoding/csv.
func wrapCSVError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		reason := ReasonBadCSV
		if errors.Is(parseErr.Err, csv.ErrFieldCount) {
			reason = ReasonColumnMismatch
		}
		return &ValidationError{Line: parseErr.Line, Reason: reason, Err: parseErr.Err}
	}
	return &ValidationError{Line: 0, Reason: ReasonBadCSV, Err: err}
}
