package timeseries

import (
	"fmt"
	"sort"
)

// valid reports whether a reference cell can take part in a selection.
// Zero counts as missing, so idle periods never do.
func valid(c Cell) bool {
	return c.Present && c.Value != 0
}

// Median returns the median of values, averaging the two middle elements
// when the count is even. values is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// MedianFilter keeps the rows whose ref value is strictly greater than the
// median of all valid ref values. It returns the filtered table and the median.
func MedianFilter(t *Table, ref string) (*Table, float64, error) {
	col, err := t.Column(ref)
	if err != nil {
		return nil, 0, err
	}

	candidates := make([]Row, 0, len(t.Rows))
	values := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		if cell := row.Cells[col]; valid(cell) {
			candidates = append(candidates, row)
			values = append(values, cell.Value)
		}
	}
	if len(values) == 0 {
		return nil, 0, fmt.Errorf("median filter on %s: %w", ref, ErrNoData)
	}

	median := Median(values)
	kept := make([]Row, 0, len(candidates))
	for _, row := range candidates {
		if row.Cells[col].Value > median {
			kept = append(kept, row)
		}
	}
	return t.subset(kept), median, nil
}

// TopK keeps the k rows with the largest valid ref values, in ascending
// timestamp order. Ties go to the earlier timestamp.
func TopK(t *Table, ref string, k int) (*Table, error) {
	col, err := t.Column(ref)
	if err != nil {
		return nil, err
	}

	candidates := make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		if valid(row.Cells[col]) {
			candidates = append(candidates, row)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("top %d on %s: %w", k, ref, ErrNoData)
	}

	// rows are already in timestamp order
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Cells[col].Value > candidates[j].Cells[col].Value
	})
	if k >= 0 && k < len(candidates) {
		candidates = candidates[:k]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	return t.subset(candidates), nil
}
