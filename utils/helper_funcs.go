package utils

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianArray returns 'size' samples from N(0, std^2) drawn from rng.
// Weights of the embedding table, the recurrences and the channel model
// all start from here with std 0.01.
func GaussianArray(size int, std float64, rng *rand.Rand) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: std, Src: rng}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

// GradNorm is the L2 norm of all grads taken as one flat vector.
func GradNorm(grads ...*mat.Dense) float64 {
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := mat.Norm(g, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// ClipGrads scales all grads so their combined norm <= maxNorm, using
// maxNorm/(norm+1e-6) as the coefficient. Returns the pre-clip norm and the
// scale actually applied (1.0 when nothing was clipped).
func ClipGrads(maxNorm float64, grads ...*mat.Dense) (norm, scale float64) {
	norm = GradNorm(grads...)
	if maxNorm <= 0 {
		return norm, 1.0
	}
	coef := maxNorm / (norm + 1e-6)
	if coef >= 1.0 {
		return norm, 1.0
	}
	for _, g := range grads {
		if g != nil {
			g.Scale(coef, g)
		}
	}
	return norm, coef
}
