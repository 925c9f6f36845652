package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWeights(t *testing.T) {
	tests := []struct {
		name      string
		weights   []float64
		stepCount int
		want      []float64
	}{
		{name: "already normalised", weights: []float64{0.5, 0.5}, stepCount: 2, want: []float64{0.5, 0.5}},
		{name: "scaled", weights: []float64{1, 3}, stepCount: 2, want: []float64{0.25, 0.75}},
		{name: "nil table", weights: nil, stepCount: 4, want: []float64{0.25, 0.25, 0.25, 0.25}},
		{name: "mis-sized", weights: []float64{1}, stepCount: 2, want: []float64{0.5, 0.5}},
		{name: "negative weight", weights: []float64{-1, 2}, stepCount: 2, want: []float64{0.5, 0.5}},
		{name: "all zero", weights: []float64{0, 0}, stepCount: 2, want: []float64{0.5, 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeWeights(tt.weights, tt.stepCount)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-9)
			}
		})
	}
}

func TestTracker_WeightedExample(t *testing.T) {
	// 5 records, worker 0 is primary with 3 of them
	tracker := NewTracker(5, 5, []float64{0.15, 0.20, 0.25, 0.30, 0.10})

	// record 1 of 3, at step 2
	assert.InDelta(t, 15.0, tracker.Percentage(true, 2, 0, 3), 1e-9)

	// step 2 finished, moving to step 3, record index still 0
	assert.InDelta(t, 35.0, tracker.Percentage(true, 3, 0, 3), 1e-9)
}

func TestTracker_NonPrimaryUsesCompletedRatio(t *testing.T) {
	tracker := NewTracker(4, 2, nil)
	assert.Equal(t, 0.0, tracker.Percentage(false, 1, 0, 2))

	tracker.RecordCompleted()
	assert.InDelta(t, 25.0, tracker.Percentage(false, 2, 1, 2), 1e-9)
	assert.Equal(t, 1, tracker.Completed())
	assert.Equal(t, 4, tracker.Total())
}

func TestTracker_MonotonicAndCapped(t *testing.T) {
	weights := []float64{0.15, 0.20, 0.25, 0.30, 0.10}
	tracker := NewTracker(3, len(weights), weights)

	last := 0.0
	for record := 0; record < 3; record++ {
		for step := 1; step <= len(weights); step++ {
			p := tracker.Percentage(true, step, record, 3)
			assert.GreaterOrEqual(t, p, last, "record %d step %d", record, step)
			assert.LessOrEqual(t, p, MaxInFlight)
			last = p
		}
		tracker.RecordCompleted()
		p := tracker.Percentage(true, 1, record+1, 3)
		assert.GreaterOrEqual(t, p, last)
		assert.LessOrEqual(t, p, MaxInFlight)
		last = p
	}

	assert.Equal(t, MaxInFlight, tracker.Percentage(false, 0, 0, 0))
	assert.Equal(t, Complete, tracker.Final())
}

func TestTracker_ConcurrentCompletions(t *testing.T) {
	tracker := NewTracker(1000, 1, nil)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tracker.RecordCompleted()
				tracker.Percentage(false, 1, 0, 0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, tracker.Completed())
	assert.Equal(t, MaxInFlight, tracker.Percentage(false, 1, 0, 0))
}

func TestTracker_EmptyBatch(t *testing.T) {
	tracker := NewTracker(0, 3, nil)
	assert.Equal(t, 0.0, tracker.Percentage(false, 2, 0, 0))
}
