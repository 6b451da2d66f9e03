package sentence

import (
	"math/rand/v2"

	"github.com/Liatwilight/DeepChannel/optimizations"
	"github.com/Liatwilight/DeepChannel/utils"
	"gonum.org/v1/gonum/mat"
)

// Encoder pools a time-major batch of word vectors into one column per example.
type Encoder interface {
	Dim() int
	// Forward returns (Dim x batch) and an opaque cache for Backward.
	Forward(xs []*mat.Dense, lengths []int, train bool) (*mat.Dense, any)
	// Backward accumulates parameter gradients and returns d/dxs.
	Backward(cache any, dOut *mat.Dense) []*mat.Dense
	Params() []*optimizations.Param
}

// ---- GRU ----

type gruEncoder struct {
	rnn    *GRU
	hidden int
}

type gruEncoderCache struct {
	rnn  *gruCache
	last []int
	T    int
}

func newGRUEncoder(cfg Config, rng *rand.Rand) *gruEncoder {
	return &gruEncoder{
		rnn:    NewGRU("encoder.encoder", cfg.WordDim, cfg.HiddenDim, cfg.NumLayers, cfg.Dropout, rng),
		hidden: cfg.HiddenDim,
	}
}

func (e *gruEncoder) Dim() int { return e.hidden }

func (e *gruEncoder) Params() []*optimizations.Param { return e.rnn.Params() }

func (e *gruEncoder) Forward(xs []*mat.Dense, lengths []int, train bool) (*mat.Dense, any) {
	outs, c := e.rnn.Forward(xs, train)
	last := utils.LastIndex(lengths)
	return utils.GatherAt(outs, last), &gruEncoderCache{rnn: c, last: last, T: len(xs)}
}

func (e *gruEncoder) Backward(cache any, dOut *mat.Dense) []*mat.Dense {
	c := cache.(*gruEncoderCache)
	return e.rnn.Backward(c.rnn, utils.ScatterAt(dOut, c.last, c.T))
}

// ---- BiGRU ----

// biGRUEncoder runs one GRU over the input and a second one over the input
// reversed per example with utils.ReversePadded.
type biGRUEncoder struct {
	fwd, bwd *GRU
	hidden   int
}

type biGRUCache struct {
	fwd, bwd *gruCache
	lengths  []int
	last     []int
	T        int
}

func newBiGRUEncoder(cfg Config, rng *rand.Rand) *biGRUEncoder {
	return &biGRUEncoder{
		fwd:    NewGRU("encoder.forward_encoder", cfg.WordDim, cfg.HiddenDim, cfg.NumLayers, 0, rng),
		bwd:    NewGRU("encoder.backward_encoder", cfg.WordDim, cfg.HiddenDim, cfg.NumLayers, 0, rng),
		hidden: cfg.HiddenDim,
	}
}

func (e *biGRUEncoder) Dim() int { return 2 * e.hidden }

func (e *biGRUEncoder) Params() []*optimizations.Param {
	return append(e.fwd.Params(), e.bwd.Params()...)
}

// encode returns the forward outputs and the backward outputs still in
// reversed order.
func (e *biGRUEncoder) encode(xs []*mat.Dense, lengths []int, train bool) ([]*mat.Dense, []*mat.Dense, *biGRUCache) {
	fo, fc := e.fwd.Forward(xs, train)
	bo, bc := e.bwd.Forward(utils.ReversePadded(xs, lengths), train)
	return fo, bo, &biGRUCache{fwd: fc, bwd: bc, lengths: lengths, last: utils.LastIndex(lengths), T: len(xs)}
}

// Forward pools each example into [forward state at len-1; backward state at
// len-1 of the reversed input], i.e. both directions after reading every real token.
func (e *biGRUEncoder) Forward(xs []*mat.Dense, lengths []int, train bool) (*mat.Dense, any) {
	fo, bo, c := e.encode(xs, lengths, train)
	return utils.StackRows(utils.GatherAt(fo, c.last), utils.GatherAt(bo, c.last)), c
}

// ForwardSequence returns the aligned (2H x batch) output for every step: the
// backward outputs are reversed back so step t of both halves refers to
// token t. Padding steps carry whatever the recurrences produced there.
func (e *biGRUEncoder) ForwardSequence(xs []*mat.Dense, lengths []int) []*mat.Dense {
	fo, bo, _ := e.encode(xs, lengths, false)
	return utils.ConcatSteps(fo, utils.ReversePadded(bo, lengths))
}

func (e *biGRUEncoder) Backward(cache any, dOut *mat.Dense) []*mat.Dense {
	c := cache.(*biGRUCache)
	H := e.hidden
	dF := utils.RowBlock(dOut, 0, H)
	dB := utils.RowBlock(dOut, H, 2*H)
	dX := e.fwd.Backward(c.fwd, utils.ScatterAt(dF, c.last, c.T))
	dRev := e.bwd.Backward(c.bwd, utils.ScatterAt(dB, c.last, c.T))
	utils.AddSteps(dX, utils.ReversePadded(dRev, c.lengths))
	return dX
}

// ---- AVG ----

// avgEncoder averages word vectors over the real positions of each example.
type avgEncoder struct {
	dim int
}

type avgCache struct {
	lengths []int
	T       int
}

func (e *avgEncoder) Dim() int { return e.dim }

func (e *avgEncoder) Params() []*optimizations.Param { return nil }

func (e *avgEncoder) Forward(xs []*mat.Dense, lengths []int, _ bool) (*mat.Dense, any) {
	d, B := xs[0].Dims()
	out := mat.NewDense(d, B, nil)
	for b, n := range lengths {
		inv := 1.0 / float64(n)
		for i := 0; i < d; i++ {
			s := 0.0
			for t := 0; t < n; t++ {
				s += xs[t].At(i, b)
			}
			out.Set(i, b, s*inv)
		}
	}
	return out, &avgCache{lengths: lengths, T: len(xs)}
}

func (e *avgEncoder) Backward(cache any, dOut *mat.Dense) []*mat.Dense {
	c := cache.(*avgCache)
	d, B := dOut.Dims()
	dXs := make([]*mat.Dense, c.T)
	for t := range dXs {
		dXs[t] = mat.NewDense(d, B, nil)
	}
	for b, n := range c.lengths {
		inv := 1.0 / float64(n)
		for t := 0; t < n; t++ {
			for i := 0; i < d; i++ {
				dXs[t].Set(i, b, dOut.At(i, b)*inv)
			}
		}
	}
	return dXs
}
