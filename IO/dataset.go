package IO

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/Liatwilight/DeepChannel/sentence"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

var ErrNoNegatives = errors.New("no negative summaries available")

// Example is one document with its reference summary. Negatives are optional;
// missing ones are sampled from other examples' references.
type Example struct {
	Doc       []int   `msgpack:"doc"`
	Sum       []int   `msgpack:"sum"`
	Negatives [][]int `msgpack:"negatives,omitempty"`
}

type Options struct {
	BatchSize     int
	NegativeCount int
	Seed          int64
}

// Dataset is an in-memory Source.
type Dataset struct {
	examples []Example
	weight   *mat.Dense
	vocab    []string
	opts     Options
	rng      *rand.Rand
}

func NewDataset(examples []Example, weight *mat.Dense, vocab []string, opts Options) (*Dataset, error) {
	if len(examples) == 0 {
		return nil, errors.New("dataset: no examples")
	}
	if opts.BatchSize <= 0 || opts.NegativeCount <= 0 {
		return nil, fmt.Errorf("dataset: batch size %d and negative count %d must be positive", opts.BatchSize, opts.NegativeCount)
	}
	_, numWords := weight.Dims()
	for i, ex := range examples {
		seqs := append([][]int{ex.Doc, ex.Sum}, ex.Negatives...)
		for _, s := range seqs {
			if len(s) == 0 {
				return nil, fmt.Errorf("dataset: example %d has an empty sequence", i)
			}
			for _, id := range s {
				if id < 0 || id >= numWords {
					return nil, fmt.Errorf("dataset: example %d token %d outside vocabulary of %d", i, id, numWords)
				}
			}
		}
	}
	seed := uint64(opts.Seed)
	return &Dataset{
		examples: examples,
		weight:   weight,
		vocab:    vocab,
		opts:     opts,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

func (d *Dataset) Len() int { return len(d.examples) }

func (d *Dataset) Vocab() []string { return d.vocab }

func (d *Dataset) TrainSize() int {
	return (len(d.examples) + d.opts.BatchSize - 1) / d.opts.BatchSize
}

func (d *Dataset) NumWords() int {
	_, c := d.weight.Dims()
	return c
}

func (d *Dataset) Weight() *mat.Dense { return d.weight }

// Batches shuffles the examples and returns a fresh iterator over them.
func (d *Dataset) Batches() BatchIterator {
	return &datasetIter{d: d, order: d.rng.Perm(len(d.examples))}
}

type datasetIter struct {
	d     *Dataset
	order []int
	pos   int
}

func (it *datasetIter) Next() (Minibatch, error) {
	if it.pos >= len(it.order) {
		return Minibatch{}, io.EOF
	}
	end := min(it.pos+it.d.opts.BatchSize, len(it.order))
	idx := it.order[it.pos:end]
	it.pos = end

	K := it.d.opts.NegativeCount
	docs := make([][]int, len(idx))
	sums := make([][][]int, K+1)
	for k := range sums {
		sums[k] = make([][]int, len(idx))
	}
	for b, i := range idx {
		ex := it.d.examples[i]
		docs[b] = ex.Doc
		sums[0][b] = ex.Sum
		negs, err := it.d.negatives(i, K)
		if err != nil {
			return Minibatch{}, err
		}
		for k, n := range negs {
			sums[k+1][b] = n
		}
	}
	mb := Minibatch{Doc: sentence.Pad(docs, PadID), Sums: make([]sentence.Batch, K+1)}
	for k, s := range sums {
		mb.Sums[k] = sentence.Pad(s, PadID)
	}
	return mb, nil
}

// negatives returns K negative summaries for example i: the stored ones
// first, then references of other examples drawn at random.
func (d *Dataset) negatives(i, K int) ([][]int, error) {
	out := make([][]int, 0, K)
	for _, n := range d.examples[i].Negatives {
		if len(out) == K {
			break
		}
		out = append(out, n)
	}
	if len(out) < K && len(d.examples) < 2 {
		return nil, fmt.Errorf("%w: example %d has %d stored and no other example to sample from", ErrNoNegatives, i, len(out))
	}
	for len(out) < K {
		j := d.rng.IntN(len(d.examples) - 1)
		if j >= i {
			j++
		}
		out = append(out, d.examples[j].Sum)
	}
	return out, nil
}

type datasetDump struct {
	Examples []Example `msgpack:"examples"`
	Vocab    []string  `msgpack:"vocab"`
	Rows     int       `msgpack:"rows"`
	Cols     int       `msgpack:"cols"`
	Weight   []float64 `msgpack:"weight"`
}

// SaveDataset writes the examples, vocabulary and word vectors as msgpack.
func SaveDataset(path string, d *Dataset) error {
	r, c := d.weight.Dims()
	dump := datasetDump{
		Examples: d.examples,
		Vocab:    d.vocab,
		Rows:     r,
		Cols:     c,
		Weight:   mat.DenseCopyOf(d.weight).RawMatrix().Data,
	}
	data, err := msgpack.Marshal(&dump)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	return writeFileAtomic(path, data)
}

func LoadDataset(path string, opts Options) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dump datasetDump
	if err := msgpack.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if dump.Rows*dump.Cols != len(dump.Weight) || dump.Rows == 0 {
		return nil, fmt.Errorf("decode %s: weight is %d values for %dx%d", path, len(dump.Weight), dump.Rows, dump.Cols)
	}
	weight := mat.NewDense(dump.Rows, dump.Cols, dump.Weight)
	return NewDataset(dump.Examples, weight, dump.Vocab, opts)
}
