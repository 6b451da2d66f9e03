// Package training drives the channel model: hardest-negative hinge loss,
// margin gate, clipping, temperature annealing and final persistence.
package training

import "math"

// HardestNegative picks the highest-scoring negative (first one on ties) and
// returns its index and the hinge loss bad[index] - good. A NaN score counts
// as the maximum, so the first NaN wins and the loss is NaN.
func HardestNegative(good float64, bad []float64) (int, float64) {
	if len(bad) == 0 {
		panic("training: no negative scores")
	}
	idx := 0
	for i, b := range bad {
		if math.IsNaN(b) {
			return i, b - good
		}
		if b > bad[idx] {
			idx = i
		}
	}
	return idx, bad[idx] - good
}

// ShouldUpdate is the margin gate: parameters move only when loss > -margin.
func ShouldUpdate(loss, margin float64) bool {
	return loss > -margin
}

// AnnealedTemperature decays linearly from 1 at epoch 0 to 0.01 at the last epoch.
func AnnealedTemperature(epoch, maxEpoch int) float64 {
	if maxEpoch <= 1 {
		return 1.0
	}
	return 1 - float64(epoch)*0.99/float64(maxEpoch-1)
}

const maxRunningAvgLoss = 12

// RunningAverage folds loss into avg with exponential decay. The first call
// (avg == 0) takes loss as-is; the result is capped at 12.
func RunningAverage(loss, avg, decay float64) float64 {
	if avg == 0 {
		avg = loss
	} else {
		avg = avg*decay + (1-decay)*loss
	}
	return math.Min(avg, maxRunningAvgLoss)
}
