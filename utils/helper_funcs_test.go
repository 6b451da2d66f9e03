package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestClipGradsScalesToMaxNorm(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{3, 0})
	b := mat.NewDense(1, 1, []float64{4})
	norm, scale := ClipGrads(0.5, a, b)
	if math.Abs(norm-5) > 1e-12 {
		t.Fatalf("norm = %v, want 5", norm)
	}
	if scale >= 1 {
		t.Fatalf("expected clipping, scale = %v", scale)
	}
	if after := GradNorm(a, b); math.Abs(after-0.5) > 1e-6 {
		t.Fatalf("norm after clip = %v, want ~0.5", after)
	}
}

func TestClipGradsLeavesSmallGrads(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{0.1, 0.1})
	_, scale := ClipGrads(1.0, a, nil)
	if scale != 1.0 || a.At(0, 0) != 0.1 {
		t.Fatalf("small grads should be untouched, scale=%v a=%v", scale, a.At(0, 0))
	}
}
