package utils

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Time-major sequences: seq[t] is (d x batch), column b holds example b at step t.

// ReversePadded reverses every example's real steps in place of the time axis
// while leaving padding where it is: for column b, steps 0..lengths[b]-1 come
// back in reverse order and steps >= lengths[b] are copied unchanged.
// Applying it twice with the same lengths gives back the input.
func ReversePadded(seq []*mat.Dense, lengths []int) []*mat.Dense {
	T := len(seq)
	if T == 0 {
		return nil
	}
	d, batch := seq[0].Dims()
	if len(lengths) != batch {
		panic(fmt.Sprintf("ReversePadded: %d lengths for batch of %d", len(lengths), batch))
	}
	out := make([]*mat.Dense, T)
	for t := range out {
		out[t] = mat.NewDense(d, batch, nil)
	}
	for b, n := range lengths {
		if n < 0 || n > T {
			panic(fmt.Sprintf("ReversePadded: length %d outside [0,%d]", n, T))
		}
		for t := 0; t < T; t++ {
			src := t
			if t < n {
				src = n - 1 - t
			}
			for i := 0; i < d; i++ {
				out[t].Set(i, b, seq[src].At(i, b))
			}
		}
	}
	return out
}

// GatherAt picks, for every example b, column b of seq[index[b]].
// Encoders use it with index = length-1 to read the state produced by the
// last real token.
func GatherAt(seq []*mat.Dense, index []int) *mat.Dense {
	d, batch := seq[0].Dims()
	if len(index) != batch {
		panic(fmt.Sprintf("GatherAt: %d indices for batch of %d", len(index), batch))
	}
	out := mat.NewDense(d, batch, nil)
	for b, t := range index {
		for i := 0; i < d; i++ {
			out.Set(i, b, seq[t].At(i, b))
		}
	}
	return out
}

// ScatterAt is the adjoint of GatherAt: it returns a zero sequence of T steps
// with column b of grad written into step index[b].
func ScatterAt(grad *mat.Dense, index []int, T int) []*mat.Dense {
	d, batch := grad.Dims()
	out := make([]*mat.Dense, T)
	for t := range out {
		out[t] = mat.NewDense(d, batch, nil)
	}
	for b, t := range index {
		for i := 0; i < d; i++ {
			out[t].Set(i, b, grad.At(i, b))
		}
	}
	return out
}

// LastIndex turns lengths into the per-example index of the last real step.
func LastIndex(lengths []int) []int {
	out := make([]int, len(lengths))
	for i, n := range lengths {
		out[i] = n - 1
	}
	return out
}

// ConcatSteps stacks a[t] on top of b[t] for every step.
func ConcatSteps(a, b []*mat.Dense) []*mat.Dense {
	if len(a) != len(b) {
		panic("ConcatSteps: sequence length mismatch")
	}
	out := make([]*mat.Dense, len(a))
	for t := range a {
		out[t] = StackRows(a[t], b[t])
	}
	return out
}

// AddSteps adds b into a step by step, in place.
func AddSteps(a, b []*mat.Dense) {
	for t := range a {
		a[t].Add(a[t], b[t])
	}
}
