package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrNoData is returned when a selection has no valid reference values to work on.
	ErrNoData = errors.New("no data")
	// ErrUnknownColumn is returned when a reference metric is not part of a table.
	ErrUnknownColumn = errors.New("unknown column")
)

// MetricSeries maps sample timestamps to values for one named metric.
// Missing samples are absent from Points, never zero.
type MetricSeries struct {
	Name        string
	Description string
	Points      map[int64]float64 // keyed by unix milliseconds
}

// NewSeries creates an empty series.
func NewSeries(name, description string) *MetricSeries {
	return &MetricSeries{
		Name:        name,
		Description: description,
		Points:      make(map[int64]float64),
	}
}

// Add records a sample. NaN and infinite values are treated as missing.
func (s *MetricSeries) Add(ts time.Time, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	s.Points[ts.UnixMilli()] = v
}

// Len returns the number of samples.
func (s *MetricSeries) Len() int {
	return len(s.Points)
}

// Column describes one metric of a Table.
type Column struct {
	Name        string
	Description string
}

// Header is the CSV header text of the column.
func (c Column) Header() string {
	if c.Description == "" {
		return c.Name
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Description)
}

// Cell is one metric value of a row. Present is false for a missing sample.
type Cell struct {
	Value   float64
	Present bool
}

// Row holds every column's value at one timestamp.
type Row struct {
	Timestamp time.Time
	Cells     []Cell
}

// Table is a set of metric series aligned on a common, ascending timestamp grid.
type Table struct {
	Columns []Column
	Rows    []Row
}

// Align builds a table from the union of all timestamps of series, sorted
// ascending. No interpolation is done across gaps.
func Align(series ...*MetricSeries) *Table {
	t := &Table{Columns: make([]Column, len(series))}

	seen := make(map[int64]struct{})
	for i, s := range series {
		t.Columns[i] = Column{Name: s.Name, Description: s.Description}
		for ts := range s.Points {
			seen[ts] = struct{}{}
		}
	}

	stamps := make([]int64, 0, len(seen))
	for ts := range seen {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	t.Rows = make([]Row, len(stamps))
	for r, ts := range stamps {
		cells := make([]Cell, len(series))
		for c, s := range series {
			if v, ok := s.Points[ts]; ok {
				cells[c] = Cell{Value: v, Present: true}
			}
		}
		t.Rows[r] = Row{Timestamp: time.UnixMilli(ts), Cells: cells}
	}
	return t
}

// Column returns the index of the named column.
func (t *Table) Column(name string) (int, error) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// subset returns a table with the same columns and the given rows.
func (t *Table) subset(rows []Row) *Table {
	return &Table{Columns: t.Columns, Rows: rows}
}
