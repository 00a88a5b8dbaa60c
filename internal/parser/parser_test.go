package parser

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanCountsDataRows(t *testing.T) {
	input := "id,name,amount\n1,alpha,10\n2,beta,20\n3,gamma,30\n"
	header, count, err := Scan(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "amount"}, header)
	require.Equal(t, 3, count)
}

func TestScanHeaderOnly(t *testing.T) {
	header, count, err := Scan(strings.NewReader("id,name\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, header)
	require.Equal(t, 0, count)
}

func TestScanEmptyInput(t *testing.T) {
	_, _, err := Scan(strings.NewReader(""))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ReasonEmptyInput, ve.Reason)
	require.Equal(t, 1, ve.Line)
}

func TestScanColumnMismatch(t *testing.T) {
	input := "id,name\n1,alpha\n2,beta,extra\n"
	_, _, err := Scan(strings.NewReader(input))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ReasonColumnMismatch, ve.Reason)
	require.Equal(t, 3, ve.Line)
}

func TestScanBadQuoting(t *testing.T) {
	input := "id,name\n1,\"unterminated\n"
	_, _, err := Scan(strings.NewReader(input))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, ReasonBadCSV, ve.Reason)
}

func TestRowsLazyIteration(t *testing.T) {
	input := "id,name\n1,alpha\n2,beta\n"
	rows, err := NewRows(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, rows.Header())

	first, err := rows.Next()
	require.NoError(t, err)
	require.Equal(t, []string{"1", "alpha"}, first)

	second, err := rows.Next()
	require.NoError(t, err)
	require.Equal(t, []string{"2", "beta"}, second)

	_, err = rows.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestRowsQuotedFieldsWithCommas(t *testing.T) {
	input := "id,note\n1,\"a, b, c\"\n"
	rows, err := NewRows(strings.NewReader(input))
	require.NoError(t, err)
	row, err := rows.Next()
	require.NoError(t, err)
	require.Equal(t, []string{"1", "a, b, c"}, row)
}
