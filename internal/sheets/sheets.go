// Package sheets provides row-oriented access to spreadsheets, where the
// first row of each sheet holds the column headers.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSheetNotFound = errors.New("sheets: sheet not found")
	ErrRowNotFound   = errors.New("sheets: row not found")
)

// Row is one data row. Index is the 1-based sheet row; the header is row 1.
type Row struct {
	Index  int
	Values map[string]string
}

// Get returns the trimmed value of a column.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r.Values[col])
}

// Store is a row-oriented spreadsheet backend.
type Store interface {
	Rows(ctx context.Context, spreadsheetID, sheet string) ([]Row, error)
	Headers(ctx context.Context, spreadsheetID, sheet string) ([]string, error)
	Append(ctx context.Context, spreadsheetID, sheet string, values []string) error
	UpdateCells(ctx context.Context, spreadsheetID, sheet string, rowIndex int, cells map[string]string) error
	DeleteRow(ctx context.Context, spreadsheetID, sheet string, rowIndex int) error
}

// AppendRecord appends a row built from a column -> value map, ordered by the
// sheet's current headers. Unknown columns are ignored.
func AppendRecord(ctx context.Context, s Store, spreadsheetID, sheet string, record map[string]string) error {
	headers, err := s.Headers(ctx, spreadsheetID, sheet)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return fmt.Errorf("sheets: %s has no header row", sheet)
	}
	row := make([]string, len(headers))
	for i, h := range headers {
		row[i] = record[h]
	}
	return s.Append(ctx, spreadsheetID, sheet, row)
}

// parseValues converts a raw value grid into header-keyed rows. Fully empty
// rows are skipped but still advance the row index.
func parseValues(values [][]any) []Row {
	if len(values) == 0 {
		return nil
	}
	headers := make([]string, len(values[0]))
	for i, h := range values[0] {
		headers[i] = strings.TrimSpace(fmt.Sprint(h))
	}

	rows := make([]Row, 0, len(values)-1)
	for i, raw := range values[1:] {
		vals := make(map[string]string, len(headers))
		empty := true
		for j, h := range headers {
			if h == "" {
				continue
			}
			var v string
			if j < len(raw) && raw[j] != nil {
				v = fmt.Sprint(raw[j])
			}
			if strings.TrimSpace(v) != "" {
				empty = false
			}
			vals[h] = v
		}
		if empty {
			continue
		}
		rows = append(rows, Row{Index: i + 2, Values: vals})
	}
	return rows
}

// columnLetter converts a 0-based column index to A1 notation.
func columnLetter(i int) string {
	var s []byte
	for i >= 0 {
		s = append([]byte{byte('A' + i%26)}, s...)
		i = i/26 - 1
	}
	return string(s)
}

// quoteSheet quotes a sheet title for use in an A1 range.
func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}
