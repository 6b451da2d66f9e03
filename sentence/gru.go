package sentence

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Liatwilight/DeepChannel/optimizations"
	"github.com/Liatwilight/DeepChannel/utils"
	"gonum.org/v1/gonum/mat"
)

const initStd = 0.01

// gruLayer holds one direction of one layer in the stacked-gate layout:
// rows [0,H) reset gate, [H,2H) update gate, [2H,3H) candidate.
//
//	r  = σ(W_ir x + b_ir + W_hr h + b_hr)
//	z  = σ(W_iz x + b_iz + W_hz h + b_hz)
//	n  = tanh(W_in x + b_in + r ⊙ (W_hn h + b_hn))
//	h' = (1-z) ⊙ n + z ⊙ h
type gruLayer struct {
	in, hidden int
	wih, whh   *optimizations.Param // (3H x I), (3H x H)
	bih, bhh   *optimizations.Param // (3H x 1)
}

type gruStep struct {
	x, hPrev     *mat.Dense
	r, z, n, ghn *mat.Dense // (H x B)
}

func newGRULayer(prefix string, layer, in, hidden int, rng *rand.Rand) *gruLayer {
	g := 3 * hidden
	name := func(kind string) string { return fmt.Sprintf("%s.%s_l%d", prefix, kind, layer) }
	return &gruLayer{
		in:     in,
		hidden: hidden,
		wih:    optimizations.NewParam(name("weight_ih"), mat.NewDense(g, in, utils.GaussianArray(g*in, initStd, rng))),
		whh:    optimizations.NewParam(name("weight_hh"), mat.NewDense(g, hidden, utils.GaussianArray(g*hidden, initStd, rng))),
		bih:    optimizations.NewParam(name("bias_ih"), mat.NewDense(g, 1, nil)),
		bhh:    optimizations.NewParam(name("bias_hh"), mat.NewDense(g, 1, nil)),
	}
}

func (l *gruLayer) params() []*optimizations.Param {
	return []*optimizations.Param{l.wih, l.whh, l.bih, l.bhh}
}

// forward runs the recurrence over every step, padding included, from a zero state.
func (l *gruLayer) forward(xs []*mat.Dense) ([]*mat.Dense, []gruStep) {
	_, B := xs[0].Dims()
	H := l.hidden
	h := mat.NewDense(H, B, nil)
	outs := make([]*mat.Dense, len(xs))
	steps := make([]gruStep, len(xs))
	for t, x := range xs {
		gi := utils.AddBias(utils.ToDense(utils.Dot(l.wih.Value, x)), l.bih.Value)
		gh := utils.AddBias(utils.ToDense(utils.Dot(l.whh.Value, h)), l.bhh.Value)
		r := mat.NewDense(H, B, nil)
		z := mat.NewDense(H, B, nil)
		n := mat.NewDense(H, B, nil)
		ghn := utils.RowBlock(gh, 2*H, 3*H)
		next := mat.NewDense(H, B, nil)
		for i := 0; i < H; i++ {
			for b := 0; b < B; b++ {
				ri := utils.Sigmoid(gi.At(i, b) + gh.At(i, b))
				zi := utils.Sigmoid(gi.At(H+i, b) + gh.At(H+i, b))
				ni := math.Tanh(gi.At(2*H+i, b) + ri*ghn.At(i, b))
				r.Set(i, b, ri)
				z.Set(i, b, zi)
				n.Set(i, b, ni)
				next.Set(i, b, (1-zi)*ni+zi*h.At(i, b))
			}
		}
		steps[t] = gruStep{x: x, hPrev: h, r: r, z: z, n: n, ghn: ghn}
		outs[t] = next
		h = next
	}
	return outs, steps
}

// backward runs BPTT given the upstream gradient for every output step,
// accumulates parameter gradients and returns the gradient for every input step.
func (l *gruLayer) backward(steps []gruStep, dOuts []*mat.Dense) []*mat.Dense {
	T := len(steps)
	_, B := steps[0].x.Dims()
	H := l.hidden
	dXs := make([]*mat.Dense, T)
	dhNext := mat.NewDense(H, B, nil)
	for t := T - 1; t >= 0; t-- {
		s := steps[t]
		dgi := mat.NewDense(3*H, B, nil)
		dgh := mat.NewDense(3*H, B, nil)
		dhPrev := mat.NewDense(H, B, nil)
		for i := 0; i < H; i++ {
			for b := 0; b < B; b++ {
				dh := dOuts[t].At(i, b) + dhNext.At(i, b)
				r, z, n := s.r.At(i, b), s.z.At(i, b), s.n.At(i, b)
				dn := dh * (1 - z)
				dz := dh * (s.hPrev.At(i, b) - n)
				dan := dn * (1 - n*n)
				dar := dan * s.ghn.At(i, b) * r * (1 - r)
				daz := dz * z * (1 - z)
				dgi.Set(i, b, dar)
				dgi.Set(H+i, b, daz)
				dgi.Set(2*H+i, b, dan)
				dgh.Set(i, b, dar)
				dgh.Set(H+i, b, daz)
				dgh.Set(2*H+i, b, dan*r)
				dhPrev.Set(i, b, dh*z)
			}
		}
		l.wih.Accumulate(utils.Dot(dgi, s.x.T()))
		l.bih.Accumulate(utils.RowSums(dgi))
		l.whh.Accumulate(utils.Dot(dgh, s.hPrev.T()))
		l.bhh.Accumulate(utils.RowSums(dgh))
		dXs[t] = utils.ToDense(utils.Dot(l.wih.Value.T(), dgi))
		dhPrev.Add(dhPrev, utils.Dot(l.whh.Value.T(), dgh))
		dhNext = dhPrev
	}
	return dXs
}

// GRU is a stack of single-direction layers. With dropout > 0 the outputs of
// every layer but the last are masked while training.
type GRU struct {
	layers  []*gruLayer
	dropout float64
	rng     *rand.Rand
}

type gruCache struct {
	steps [][]gruStep
	masks [][]*mat.Dense // masks[l][t] applied between layer l and l+1
}

func NewGRU(prefix string, in, hidden, numLayers int, dropout float64, rng *rand.Rand) *GRU {
	g := &GRU{dropout: dropout, rng: rng}
	for l := 0; l < numLayers; l++ {
		layerIn := in
		if l > 0 {
			layerIn = hidden
		}
		g.layers = append(g.layers, newGRULayer(prefix, l, layerIn, hidden, rng))
	}
	return g
}

func (g *GRU) Params() []*optimizations.Param {
	var out []*optimizations.Param
	for _, l := range g.layers {
		out = append(out, l.params()...)
	}
	return out
}

// Forward returns the top layer's hidden state at every step.
func (g *GRU) Forward(xs []*mat.Dense, train bool) ([]*mat.Dense, *gruCache) {
	c := &gruCache{
		steps: make([][]gruStep, len(g.layers)),
		masks: make([][]*mat.Dense, len(g.layers)),
	}
	cur := xs
	for li, l := range g.layers {
		outs, steps := l.forward(cur)
		c.steps[li] = steps
		if train && g.dropout > 0 && li < len(g.layers)-1 {
			c.masks[li] = make([]*mat.Dense, len(outs))
			for t, o := range outs {
				m := dropoutMask(o, g.dropout, g.rng)
				c.masks[li][t] = m
				outs[t] = utils.ToDense(utils.Multiply(o, m))
			}
		}
		cur = outs
	}
	return cur, c
}

// Backward takes the upstream gradient for every top-layer output and
// returns the gradient for every input step.
func (g *GRU) Backward(c *gruCache, dOuts []*mat.Dense) []*mat.Dense {
	cur := dOuts
	for li := len(g.layers) - 1; li >= 0; li-- {
		if masks := c.masks[li]; masks != nil {
			masked := make([]*mat.Dense, len(cur))
			for t := range cur {
				masked[t] = utils.ToDense(utils.Multiply(cur[t], masks[t]))
			}
			cur = masked
		}
		cur = g.layers[li].backward(c.steps[li], cur)
	}
	return cur
}

// dropoutMask keeps each entry with probability 1-p, scaled by 1/(1-p).
func dropoutMask(like *mat.Dense, p float64, rng *rand.Rand) *mat.Dense {
	r, c := like.Dims()
	m := mat.NewDense(r, c, nil)
	keep := 1.0 / (1.0 - p)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() >= p {
				m.Set(i, j, keep)
			}
		}
	}
	return m
}
