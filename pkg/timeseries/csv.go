package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// TimestampLayout is the format of the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// TimestampLayoutMillis is used instead when any row falls between seconds,
// so that rows from a sub-second step stay distinct.
const TimestampLayoutMillis = "2006-01-02 15:04:05.000"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes the table as CSV, prefixed with a UTF-8 byte order mark.
// Timestamps are rendered in loc, or the local zone if loc is nil. Missing
// samples are written as empty cells.
func (t *Table) WriteCSV(w io.Writer, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(t.Columns)+1)
	header = append(header, "timestamp")
	for _, c := range t.Columns {
		header = append(header, c.Header())
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	layout := t.timestampLayout()
	record := make([]string, len(t.Columns)+1)
	for _, row := range t.Rows {
		record[0] = row.Timestamp.In(loc).Format(layout)
		for i, cell := range row.Cells {
			record[i+1] = ""
			if cell.Present {
				record[i+1] = strconv.FormatFloat(cell.Value, 'f', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (t *Table) timestampLayout() string {
	for _, row := range t.Rows {
		if row.Timestamp.Nanosecond() != 0 {
			return TimestampLayoutMillis
		}
	}
	return TimestampLayout
}

// SaveCSV writes the table to path.
func (t *Table) SaveCSV(path string, loc *time.Location) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := t.WriteCSV(f, loc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
