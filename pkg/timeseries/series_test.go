package timeseries

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 11, 25, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

// series builds a series from second offsets; NaN marks a missing sample.
func series(name string, values map[int]float64) *MetricSeries {
	s := NewSeries(name, "")
	for sec, v := range values {
		s.Add(at(sec), v)
	}
	return s
}

func timestamps(t *Table) []time.Time {
	out := make([]time.Time, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Timestamp.UTC()
	}
	return out
}

func TestAlign_UnionSortedWithGaps(t *testing.T) {
	a := series("a", map[int]float64{3: 3, 1: 1})
	b := series("b", map[int]float64{2: 20, 3: 30})

	table := Align(a, b)

	require.Len(t, table.Rows, 3)
	assert.Equal(t, []time.Time{at(1), at(2), at(3)}, timestamps(table))
	assert.Equal(t, []Cell{{1, true}, {0, false}}, table.Rows[0].Cells)
	assert.Equal(t, []Cell{{0, false}, {20, true}}, table.Rows[1].Cells)
	assert.Equal(t, []Cell{{3, true}, {30, true}}, table.Rows[2].Cells)
}

func TestSeries_NaNIsMissing(t *testing.T) {
	s := series("a", map[int]float64{1: math.NaN(), 2: 4, 3: math.Inf(1)})

	assert.Equal(t, 1, s.Len())
	table := Align(s)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, at(2), table.Rows[0].Timestamp.UTC())
}

func TestAlign_NoSeries(t *testing.T) {
	table := Align()
	assert.True(t, table.Empty())
	assert.Empty(t, table.Columns)
}

func TestMedianFilter_SkipsZeroAndMissing(t *testing.T) {
	ref := series("logs_per_second", map[int]float64{1: 5, 2: 0, 3: math.NaN(), 4: 10, 5: 15})
	other := series("other", map[int]float64{3: 7, 5: 99})

	filtered, median, err := MedianFilter(Align(ref, other), "logs_per_second")

	require.NoError(t, err)
	assert.Equal(t, 10.0, median)
	require.Len(t, filtered.Rows, 1)
	assert.Equal(t, at(5), filtered.Rows[0].Timestamp.UTC())
	assert.Equal(t, []Cell{{15, true}, {99, true}}, filtered.Rows[0].Cells)
}

func TestMedianFilter_EvenCountAverages(t *testing.T) {
	ref := series("r", map[int]float64{1: 1, 2: 2, 3: 3, 4: 4})

	filtered, median, err := MedianFilter(Align(ref), "r")

	require.NoError(t, err)
	assert.Equal(t, 2.5, median)
	assert.Equal(t, []time.Time{at(3), at(4)}, timestamps(filtered))
}

func TestMedianFilter_RetainedStrictlyAboveMedian(t *testing.T) {
	values := map[int]float64{}
	for i := 0; i < 50; i++ {
		values[i] = float64((i * 13) % 7)
	}
	table := Align(series("r", values))

	filtered, median, err := MedianFilter(table, "r")
	require.NoError(t, err)

	for _, row := range filtered.Rows {
		assert.Greater(t, row.Cells[0].Value, median)
		assert.NotZero(t, row.Cells[0].Value)
	}
}

func TestMedianFilter_NoData(t *testing.T) {
	table := Align(series("r", map[int]float64{1: 0, 2: 0}))

	filtered, _, err := MedianFilter(table, "r")

	assert.True(t, errors.Is(err, ErrNoData))
	assert.Nil(t, filtered)
}

func TestMedianFilter_UnknownColumn(t *testing.T) {
	_, _, err := MedianFilter(Align(series("r", map[int]float64{1: 1})), "missing")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestTopK_ReturnsChronological(t *testing.T) {
	ref := series("http", map[int]float64{1: 5, 2: 20, 3: 0, 4: 15, 5: math.NaN()})

	top, err := TopK(Align(ref), "http", 2)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2), at(4)}, timestamps(top))
	assert.Equal(t, 20.0, top.Rows[0].Cells[0].Value)
	assert.Equal(t, 15.0, top.Rows[1].Cells[0].Value)
}

func TestTopK_FewerThanK(t *testing.T) {
	ref := series("http", map[int]float64{1: 5, 2: 20, 3: 0})

	top, err := TopK(Align(ref), "http", 20)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(1), at(2)}, timestamps(top))
}

func TestTopK_TiesPreferEarlier(t *testing.T) {
	ref := series("http", map[int]float64{1: 7, 2: 9, 3: 7, 4: 7})

	top, err := TopK(Align(ref), "http", 2)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(1), at(2)}, timestamps(top))
}

func TestTopK_KeepsLargestValues(t *testing.T) {
	values := map[int]float64{}
	for i := 0; i < 100; i++ {
		values[i] = float64((i*37)%101 + 1)
	}
	top, err := TopK(Align(series("r", values)), "r", 10)
	require.NoError(t, err)
	require.Len(t, top.Rows, 10)

	for i := 1; i < len(top.Rows); i++ {
		assert.True(t, top.Rows[i-1].Timestamp.Before(top.Rows[i].Timestamp))
	}
	for _, row := range top.Rows {
		assert.Greater(t, row.Cells[0].Value, 90.0)
	}
}

func TestTopK_NoData(t *testing.T) {
	_, err := TopK(Align(series("r", map[int]float64{1: 0})), "r", 5)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestWriteCSV(t *testing.T) {
	a := NewSeries("logs_per_second", "logs/s")
	a.Add(at(0), 12.5)
	a.Add(at(1), 3)
	b := NewSeries("http_requests_per_second", "")
	b.Add(at(1), 4)

	var buf bytes.Buffer
	require.NoError(t, Align(a, b).WriteCSV(&buf, time.UTC))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\ufeff"))
	assert.Equal(t,
		"timestamp,logs_per_second (logs/s),http_requests_per_second\n"+
			"2025-11-25 10:00:00,12.5,\n"+
			"2025-11-25 10:00:01,3,4\n",
		strings.TrimPrefix(out, "\ufeff"))
}

func TestWriteCSV_SubSecondRowsStayDistinct(t *testing.T) {
	a := NewSeries("a", "")
	a.Add(base, 1)
	a.Add(base.Add(500*time.Millisecond), 2)
	a.Add(base.Add(time.Second), 3)

	var buf bytes.Buffer
	require.NoError(t, Align(a).WriteCSV(&buf, time.UTC))

	assert.Equal(t,
		"timestamp,a\n"+
			"2025-11-25 10:00:00.000,1\n"+
			"2025-11-25 10:00:00.500,2\n"+
			"2025-11-25 10:00:01.000,3\n",
		strings.TrimPrefix(buf.String(), "\ufeff"))
}

func TestWriteCSV_Idempotent(t *testing.T) {
	build := func() []byte {
		a := series("a", map[int]float64{5: 1, 1: 2, 3: 3})
		b := series("b", map[int]float64{2: 4, 3: 5})
		var buf bytes.Buffer
		require.NoError(t, Align(a, b).WriteCSV(&buf, time.UTC))
		return buf.Bytes()
	}
	assert.Equal(t, build(), build())
}

func TestSaveCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, Align(series("a", map[int]float64{1: 1})).SaveCSV(path, time.UTC))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2025-11-25 10:00:01,1")
}

func TestSummarize(t *testing.T) {
	a := series("a", map[int]float64{1: 4, 2: 0, 3: 8, 4: 2})
	b := series("b", map[int]float64{1: 1})
	c := NewSeries("c", "")

	s := Summarize(Align(a, b, c))

	require.Len(t, s, 3)
	assert.Equal(t, Summary{Name: "a", Count: 4, Min: 0, Max: 8, Mean: 3.5, Median: 3}, s[0])
	assert.Equal(t, Summary{Name: "b", Count: 1, Min: 1, Max: 1, Mean: 1, Median: 1}, s[1])
	assert.Equal(t, Summary{Name: "c"}, s[2])
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}
