package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// Parse and content failure classes. Both route an ingestion run to the
// failed ledger state.
var (
	ErrParse        = errors.New("csv parse error")
	ErrEmptyPayload = errors.New("csv has no data rows")
)

// Row is one parsed data row, fields still in their raw string form.
type Row struct {
	RollNo        string
	Name          string
	ObtainedMarks string
	TotalMarks    string
}

var requiredColumns = []string{"rollNo", "name", "obtainedMarks", "totalMarks"}

// utf8BOM is prepended by Excel and some Windows editors when exporting CSV.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseRows reads delimited text with a header row into Rows. A leading UTF-8
// BOM is skipped, fields are trimmed and blank lines skipped. Returns ErrParse
// for a malformed header or inconsistent records; a header-only file yields
// zero rows and no error.
func parseRows(data []byte) ([]Row, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column %q", ErrParse, col)
		}
	}

	field := func(record []string, col string) string {
		return strings.TrimSpace(record[index[col]])
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, Row{
			RollNo:        field(record, "rollNo"),
			Name:          field(record, "name"),
			ObtainedMarks: field(record, "obtainedMarks"),
			TotalMarks:    field(record, "totalMarks"),
		})
	}
	return rows, nil
}
