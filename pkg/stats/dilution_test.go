package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func iteration(elapsed float64, requests, logs int) IterationResult {
	return IterationResult{Elapsed: elapsed, SuccessfulRequests: requests, SuccessfulLogs: logs}
}

func TestCorrect_ThreeIterations(t *testing.T) {
	results := []IterationResult{
		iteration(2, 20, 100),
		iteration(2, 20, 100),
		iteration(2, 20, 100),
	}

	d := Correct(results, 5*time.Second, 5, true)

	assert.Equal(t, 6.0, d.TotalWorkTime)
	assert.Equal(t, 10.0, d.TotalWaitTime)
	assert.Equal(t, 16.0, d.TotalElapsedTime)
	assert.Equal(t, 18.75, d.MeasuredThroughput)
	assert.Equal(t, 50.0, d.CorrectedThroughput)
	assert.Equal(t, 10.0, d.CorrectedRequestRate)
	assert.Equal(t, 0.375, d.WorkRatio)
	assert.True(t, d.Diluted())
	assert.True(t, d.Consistent(ConsistencyTolerance))
}

func TestCorrect_SingleIterationHasNoWait(t *testing.T) {
	d := Correct([]IterationResult{iteration(4, 10, 40)}, 5*time.Second, 4, true)

	assert.Equal(t, 0.0, d.TotalWaitTime)
	assert.Equal(t, d.CorrectedThroughput, d.MeasuredThroughput)
	assert.False(t, d.Diluted())
}

func TestCorrect_Empty(t *testing.T) {
	d := Correct(nil, time.Second, 5, true)

	assert.Equal(t, 0, d.Iterations)
	assert.Equal(t, 0.0, d.MeasuredThroughput)
	assert.Equal(t, 0.0, d.CorrectedThroughput)
	assert.True(t, d.Consistent(ConsistencyTolerance))
}

func TestCorrect_InconsistentPartialBatches(t *testing.T) {
	// half the batches carried a single record
	results := []IterationResult{iteration(1, 10, 30)}

	d := Correct(results, 0, 5, true)

	assert.False(t, d.Consistent(ConsistencyTolerance))
	assert.True(t, Correct(results, 0, 5, false).Consistent(ConsistencyTolerance))
}
