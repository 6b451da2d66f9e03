// Package channel scores how likely a document is to have produced a summary.
package channel

import (
	"math/rand/v2"

	"github.com/Liatwilight/DeepChannel/optimizations"
	"github.com/Liatwilight/DeepChannel/utils"
	"gonum.org/v1/gonum/mat"
)

const initStd = 0.01

// Model is a bilinear compatibility score squashed through a tempered sigmoid:
// p_b = sigmoid((d_bᵀ W s_b + b) / Temperature).
type Model struct {
	dim         int
	w           *optimizations.Param // (dim x dim)
	b           *optimizations.Param // (1 x 1)
	Temperature float64
}

// Trace holds the forward values Backward needs.
type Trace struct {
	d, s  *mat.Dense // (dim x batch)
	ws    *mat.Dense // W s, (dim x batch)
	probs []float64
	temp  float64
}

func New(dim int, rng *rand.Rand) *Model {
	return &Model{
		dim:         dim,
		w:           optimizations.NewParam("channel.W", mat.NewDense(dim, dim, utils.GaussianArray(dim*dim, initStd, rng))),
		b:           optimizations.NewParam("channel.b", mat.NewDense(1, 1, nil)),
		Temperature: 1.0,
	}
}

func (m *Model) Dim() int { return m.dim }

func (m *Model) Parameters() []*optimizations.Param {
	return []*optimizations.Param{m.w, m.b}
}

// Score returns the batch mean of p_b. D and S must both be (dim x batch).
func (m *Model) Score(D, S *mat.Dense) (float64, *Trace) {
	dr, batch := D.Dims()
	sr, sc := S.Dims()
	if dr != m.dim || sr != m.dim || sc != batch {
		panic(mat.ErrShape)
	}
	ws := utils.ToDense(utils.Dot(m.w.Value, S))
	bias := m.b.Value.At(0, 0)
	probs := make([]float64, batch)
	var mean float64
	for j := 0; j < batch; j++ {
		u := mat.Dot(D.ColView(j), ws.ColView(j)) + bias
		probs[j] = utils.Sigmoid(u / m.Temperature)
		mean += probs[j]
	}
	mean /= float64(batch)
	return mean, &Trace{d: D, s: S, ws: ws, probs: probs, temp: m.Temperature}
}

// Backward accumulates dScore into W and b and returns the gradients
// with respect to D and S.
func (m *Model) Backward(tr *Trace, dScore float64) (dD, dS *mat.Dense) {
	batch := len(tr.probs)
	du := mat.NewDiagDense(batch, nil)
	var db float64
	for j, p := range tr.probs {
		g := dScore / float64(batch) * p * (1 - p) / tr.temp
		du.SetDiag(j, g)
		db += g
	}
	dDu := utils.ToDense(utils.Dot(tr.d, du)) // column j scaled by du_j
	m.w.Accumulate(utils.Dot(dDu, tr.s.T()))
	m.b.Grad.Set(0, 0, m.b.Grad.At(0, 0)+db)

	dD = utils.ToDense(utils.Dot(tr.ws, du))
	dS = utils.ToDense(utils.Dot(m.w.Value.T(), dDu))
	return dD, dS
}
