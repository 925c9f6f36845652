package progress

import (
	"math"
	"sync"
	"sync/atomic"
)

const (
	// MaxInFlight is the ceiling for any percentage reported before the batch ends
	MaxInFlight = 99.0

	// Complete is reported once, by the batch-terminal event
	Complete = 100.0
)

// Tracker computes the weighted batch percentage. RecordCompleted is called by every
// worker; only the primary worker asks for step-level percentages.
type Tracker struct {
	total     int
	completed atomic.Int64
	weights   []float64

	mu   sync.Mutex
	last float64
}

// NewTracker creates a tracker for total records over stepCount steps. weights are
// normalised to sum to 1.0; a missing, mis-sized or non-positive table is replaced
// by uniform weights.
func NewTracker(total, stepCount int, weights []float64) *Tracker {
	return &Tracker{
		total:   total,
		weights: NormalizeWeights(weights, stepCount),
	}
}

// NormalizeWeights scales weights to sum 1.0, falling back to uniform weights
func NormalizeWeights(weights []float64, stepCount int) []float64 {
	if stepCount < 1 {
		stepCount = 1
	}

	sum := 0.0
	valid := len(weights) == stepCount
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			valid = false
			break
		}
		sum += w
	}

	normalized := make([]float64, stepCount)
	if !valid || sum <= 0 {
		for i := range normalized {
			normalized[i] = 1.0 / float64(stepCount)
		}
		return normalized
	}

	for i, w := range weights {
		normalized[i] = w / sum
	}
	return normalized
}

// RecordCompleted counts one finished record (success, failure or skip)
func (t *Tracker) RecordCompleted() int {
	return int(t.completed.Add(1))
}

// Completed returns the number of finished records
func (t *Tracker) Completed() int {
	return int(t.completed.Load())
}

// Total returns the batch size
func (t *Tracker) Total() int {
	return t.total
}

// Weights returns a copy of the normalised weight table
func (t *Tracker) Weights() []float64 {
	out := make([]float64, len(t.weights))
	copy(out, t.weights)
	return out
}

// Percentage returns the current batch percentage, capped at MaxInFlight.
//
// Non-primary callers get completed/total. The primary worker adds the weight of the
// steps it has already passed for the current record (currentStep is 1-based) and a
// share of the current step's weight proportional to recordIndex/recordsInWorker.
// The returned value never drops below a previously returned one.
func (t *Tracker) Percentage(isPrimary bool, currentStep, recordIndex, recordsInWorker int) float64 {
	value := t.basePercentage()

	if isPrimary {
		stepIdx := currentStep - 1
		if stepIdx < 0 {
			stepIdx = 0
		}
		if stepIdx > len(t.weights)-1 {
			stepIdx = len(t.weights) - 1
		}
		for i := 0; i < stepIdx; i++ {
			value += t.weights[i] * 100
		}
		if recordsInWorker > 0 {
			value += t.weights[stepIdx] * 100 * float64(recordIndex) / float64(recordsInWorker)
		}
	}

	if value > MaxInFlight {
		value = MaxInFlight
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if value < t.last {
		value = t.last
	}
	t.last = value
	return value
}

// Final returns the terminal percentage
func (t *Tracker) Final() float64 {
	t.mu.Lock()
	t.last = Complete
	t.mu.Unlock()
	return Complete
}

func (t *Tracker) basePercentage() float64 {
	if t.total <= 0 {
		return 0
	}
	return float64(t.Completed()) / float64(t.total) * 100
}
