package timeseries

// Summary describes the present values of one column.
type Summary struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Summarize returns one Summary per column, in column order.
func Summarize(t *Table) []Summary {
	summaries := make([]Summary, len(t.Columns))
	for c, col := range t.Columns {
		values := make([]float64, 0, len(t.Rows))
		for _, row := range t.Rows {
			if cell := row.Cells[c]; cell.Present {
				values = append(values, cell.Value)
			}
		}

		s := Summary{Name: col.Name, Count: len(values)}
		if len(values) > 0 {
			s.Min, s.Max = values[0], values[0]
			var sum float64
			for _, v := range values {
				sum += v
				s.Min = min(s.Min, v)
				s.Max = max(s.Max, v)
			}
			s.Mean = sum / float64(len(values))
			s.Median = Median(values)
		}
		summaries[c] = s
	}
	return summaries
}
