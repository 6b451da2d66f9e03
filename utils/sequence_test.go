package utils

import (
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randomSeq(rng *rand.Rand, T, d, batch int) []*mat.Dense {
	seq := make([]*mat.Dense, T)
	for t := range seq {
		seq[t] = mat.NewDense(d, batch, GaussianArray(d*batch, 1.0, rng))
	}
	return seq
}

func TestReversePaddedKeepsPadding(t *testing.T) {
	// one row, two examples; example 0 has 3 real steps, example 1 has 1
	seq := []*mat.Dense{
		mat.NewDense(1, 2, []float64{1, 10}),
		mat.NewDense(1, 2, []float64{2, -1}),
		mat.NewDense(1, 2, []float64{3, -2}),
		mat.NewDense(1, 2, []float64{-9, -3}),
	}
	out := ReversePadded(seq, []int{3, 1})
	want := [][2]float64{{3, 10}, {2, -1}, {1, -2}, {-9, -3}}
	for step, w := range want {
		for b := 0; b < 2; b++ {
			if got := out[step].At(0, b); got != w[b] {
				t.Errorf("step %d example %d: got %v want %v", step, b, got, w[b])
			}
		}
	}
}

func TestReversePaddedInvolution(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for trial := 0; trial < 50; trial++ {
		T := 1 + rng.IntN(8)
		batch := 1 + rng.IntN(5)
		lengths := make([]int, batch)
		for b := range lengths {
			lengths[b] = 1 + rng.IntN(T)
		}
		seq := randomSeq(rng, T, 3, batch)
		back := ReversePadded(ReversePadded(seq, lengths), lengths)
		for step := range seq {
			if !mat.Equal(seq[step], back[step]) {
				t.Fatalf("trial %d: step %d differs after double reverse (lengths %v)", trial, step, lengths)
			}
		}
	}
}

func TestGatherScatterAdjoint(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seq := randomSeq(rng, 4, 2, 3)
	idx := []int{0, 3, 1}
	g := GatherAt(seq, idx)
	for b, step := range idx {
		for i := 0; i < 2; i++ {
			if g.At(i, b) != seq[step].At(i, b) {
				t.Fatalf("gather mismatch at (%d,%d)", i, b)
			}
		}
	}
	sc := ScatterAt(g, idx, 4)
	for step := range sc {
		for b := 0; b < 3; b++ {
			for i := 0; i < 2; i++ {
				want := 0.0
				if idx[b] == step {
					want = g.At(i, b)
				}
				if sc[step].At(i, b) != want {
					t.Fatalf("scatter step %d col %d row %d: got %v want %v", step, b, i, sc[step].At(i, b), want)
				}
			}
		}
	}
}
