// Package sentence maps padded token-id batches to one fixed-size vector per
// sequence. The encoder strategy (GRU, BiGRU or AVG) is picked once in New.
package sentence

import (
	"fmt"
	"math/rand/v2"

	"github.com/Liatwilight/DeepChannel/optimizations"
	"github.com/Liatwilight/DeepChannel/utils"
	"gonum.org/v1/gonum/mat"
)

type Config struct {
	Type              string // "GRU", "BiGRU" or "AVG"
	NumWords          int
	WordDim           int
	HiddenDim         int
	NumLayers         int
	Dropout           float64 // between stacked GRU layers
	WordDropout       float64 // on looked-up word vectors
	TuneWordEmbedding bool
}

type SentenceEmbedding struct {
	cfg      Config
	embed    *optimizations.Param // (wordDim x numWords), column per token id
	encoder  Encoder
	training bool
	rng      *rand.Rand
}

// Trace is what Backward needs from one Encode call.
type Trace struct {
	batch Batch
	masks []*mat.Dense // word dropout, nil when disabled
	cache any
}

func New(cfg Config, rng *rand.Rand) (*SentenceEmbedding, error) {
	if cfg.NumWords <= 0 || cfg.WordDim <= 0 {
		return nil, fmt.Errorf("sentence: num_words=%d word_dim=%d must be positive", cfg.NumWords, cfg.WordDim)
	}
	var enc Encoder
	switch cfg.Type {
	case "GRU":
		enc = newGRUEncoder(cfg, rng)
	case "BiGRU":
		enc = newBiGRUEncoder(cfg, rng)
	case "AVG":
		enc = &avgEncoder{dim: cfg.WordDim}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoder, cfg.Type)
	}
	weights := mat.NewDense(cfg.WordDim, cfg.NumWords, utils.GaussianArray(cfg.WordDim*cfg.NumWords, initStd, rng))
	return &SentenceEmbedding{
		cfg:      cfg,
		embed:    optimizations.NewParam("word_embedding.weight", weights),
		encoder:  enc,
		training: true,
		rng:      rng,
	}, nil
}

func (s *SentenceEmbedding) Dim() int { return s.encoder.Dim() }

// SetTraining switches dropout on (true) or off (false).
func (s *SentenceEmbedding) SetTraining(on bool) { s.training = on }

// LoadWordVectors overwrites the embedding table with pretrained vectors.
func (s *SentenceEmbedding) LoadWordVectors(w *mat.Dense) error {
	r, c := w.Dims()
	if r != s.cfg.WordDim || c != s.cfg.NumWords {
		return fmt.Errorf("sentence: word vectors are %dx%d, want %dx%d", r, c, s.cfg.WordDim, s.cfg.NumWords)
	}
	s.embed.Value.Copy(w)
	return nil
}

// Parameters are the trainable params; the embedding table is left out when frozen.
func (s *SentenceEmbedding) Parameters() []*optimizations.Param {
	var out []*optimizations.Param
	if s.cfg.TuneWordEmbedding {
		out = append(out, s.embed)
	}
	return append(out, s.encoder.Params()...)
}

// StateParams is everything that gets persisted, frozen embedding included.
func (s *SentenceEmbedding) StateParams() []*optimizations.Param {
	return append([]*optimizations.Param{s.embed}, s.encoder.Params()...)
}

// lookup returns the time-major word vectors of b: step t is (wordDim x batch).
func (s *SentenceEmbedding) lookup(b Batch) []*mat.Dense {
	L := b.MaxLen()
	xs := make([]*mat.Dense, L)
	for t := 0; t < L; t++ {
		x := mat.NewDense(s.cfg.WordDim, b.Size(), nil)
		for col, row := range b.IDs {
			x.SetCol(col, mat.Col(nil, row[t], s.embed.Value))
		}
		xs[t] = x
	}
	return xs
}

// Encode validates b and returns its (Dim x batch) sentence vectors.
func (s *SentenceEmbedding) Encode(b Batch) (*mat.Dense, *Trace, error) {
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}
	if err := b.checkVocab(s.cfg.NumWords); err != nil {
		return nil, nil, err
	}
	xs := s.lookup(b)
	tr := &Trace{batch: b}
	if s.training && s.cfg.WordDropout > 0 {
		tr.masks = make([]*mat.Dense, len(xs))
		for t, x := range xs {
			m := dropoutMask(x, s.cfg.WordDropout, s.rng)
			tr.masks[t] = m
			x.MulElem(x, m)
		}
	}
	out, cache := s.encoder.Forward(xs, b.Lengths, s.training)
	tr.cache = cache
	return out, tr, nil
}

// EncodeSequence returns the aligned per-step BiGRU output (2H x batch per
// step). Only the BiGRU strategy has one.
func (s *SentenceEmbedding) EncodeSequence(b Batch) ([]*mat.Dense, error) {
	bi, ok := s.encoder.(*biGRUEncoder)
	if !ok {
		return nil, fmt.Errorf("sentence: %s has no per-step output", s.cfg.Type)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := b.checkVocab(s.cfg.NumWords); err != nil {
		return nil, err
	}
	return bi.ForwardSequence(s.lookup(b), b.Lengths), nil
}

// Backward pushes dOut (Dim x batch) through the encoder and, when the table
// is tuned, into the embedding columns of the tokens that were looked up.
func (s *SentenceEmbedding) Backward(tr *Trace, dOut *mat.Dense) {
	dXs := s.encoder.Backward(tr.cache, dOut)
	if !s.cfg.TuneWordEmbedding {
		return
	}
	d := s.cfg.WordDim
	for t, dx := range dXs {
		if tr.masks != nil {
			dx = utils.ToDense(utils.Multiply(dx, tr.masks[t]))
		}
		for col, row := range tr.batch.IDs {
			id := row[t]
			for i := 0; i < d; i++ {
				s.embed.Grad.Set(i, id, s.embed.Grad.At(i, id)+dx.At(i, col))
			}
		}
	}
}
