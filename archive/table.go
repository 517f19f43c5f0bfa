package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/angas/meteolog-go/convert"
	"github.com/angas/meteolog-go/resample"
)

const timestampColumn = "timestamp"

// cellDecimals bounds the printed precision of newly written cells.
// Existing cells are carried verbatim so rewrites stay byte-identical.
const cellDecimals = 4

// table is one archive file in memory. Cells stay strings: values read from
// disk are never re-formatted.
type table struct {
	fields []string // column names after the timestamp column
	rows   []tableRow
}

type tableRow struct {
	ts    time.Time
	cells map[string]string
}

func readTable(path string) (table, error) {
	var t table

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("reading header: %w", err)
	}
	if len(header) == 0 || header[0] != timestampColumn {
		return t, fmt.Errorf("unexpected header %v", header)
	}
	t.fields = header[1:]

	seen := make(map[int64]bool)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table{}, fmt.Errorf("reading rows: %w", err)
		}

		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return table{}, fmt.Errorf("row timestamp %q: %w", record[0], err)
		}
		ts = ts.UTC()
		if seen[ts.UnixNano()] {
			continue
		}
		seen[ts.UnixNano()] = true

		cells := make(map[string]string, len(t.fields))
		for i, field := range t.fields {
			if record[i+1] != "" {
				cells[field] = record[i+1]
			}
		}
		t.rows = append(t.rows, tableRow{ts: ts, cells: cells})
	}

	return t, nil
}

// mergeTable folds the series into the table. Existing columns keep their
// position, new fields append at the end. A series row whose timestamp the
// table already holds is dropped.
func mergeTable(t table, series resample.Series) (table, int) {
	for _, field := range series.Fields {
		if !slices.Contains(t.fields, field) {
			t.fields = append(t.fields, field)
		}
	}

	taken := make(map[int64]bool, len(t.rows))
	for _, row := range t.rows {
		taken[row.ts.UnixNano()] = true
	}

	newRows := 0
	for _, row := range series.Rows {
		ts := row.Timestamp.UTC()
		if taken[ts.UnixNano()] {
			continue
		}
		taken[ts.UnixNano()] = true

		cells := make(map[string]string, len(series.Fields))
		for _, field := range series.Fields {
			if cell, ok := row.Cells[field]; ok && cell.IsValid() {
				cells[field] = formatCell(cell.Value())
			}
		}
		t.rows = append(t.rows, tableRow{ts: ts, cells: cells})
		newRows++
	}

	slices.SortStableFunc(t.rows, func(a, b tableRow) int {
		return a.ts.Compare(b.ts)
	})
	return t, newRows
}

func writeTable(path string, t table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(append([]string{timestampColumn}, t.fields...)); err != nil {
		tmp.Close()
		return err
	}
	record := make([]string, len(t.fields)+1)
	for _, row := range t.rows {
		record[0] = row.ts.Format(time.RFC3339)
		for i, field := range t.fields {
			record[i+1] = row.cells[field]
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func formatCell(v float64) string {
	return strconv.FormatFloat(convert.RoundFloat64(v, cellDecimals), 'f', -1, 64)
}
