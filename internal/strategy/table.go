package strategy

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Table is a labeled experiment table: one column per input key, categorical
// values as their labels.
type Table struct {
	Keys []string `json:"keys" yaml:"keys"`
	Rows [][]any  `json:"rows" yaml:"rows"`
}

// Len returns the number of experiments.
func (t Table) Len() int { return len(t.Rows) }

// Records renders the table as strings, header first.
func (t Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, append([]string(nil), t.Keys...))
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for j, v := range row {
			switch x := v.(type) {
			case float64:
				rec[j] = strconv.FormatFloat(x, 'g', -1, 64)
			case string:
				rec[j] = x
			default:
				rec[j] = fmt.Sprint(x)
			}
		}
		out = append(out, rec)
	}
	return out
}

// ReadCSV reads a table with a header row. Cells that parse as numbers become
// float64; everything else is kept as a label.
func ReadCSV(r io.Reader) (Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("failed to read CSV: missing header row")
	}

	t := Table{Keys: records[0], Rows: make([][]any, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for j, cell := range rec {
			cell = strings.TrimSpace(cell)
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				row[j] = f
			} else {
				row[j] = cell
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes the table as CSV with a header row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}
