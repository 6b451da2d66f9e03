// Package IO feeds token batches to the trainer and moves datasets, vocabularies
// and trained parameters to and from disk.
package IO

import (
	"github.com/Liatwilight/DeepChannel/sentence"
	"gonum.org/v1/gonum/mat"
)

// PadID fills every position past a sequence's true length.
const PadID = 0

// Minibatch is one training step worth of data: the documents and K+1 summary
// batches over the same examples, the reference summary first.
type Minibatch struct {
	Doc  sentence.Batch
	Sums []sentence.Batch
}

// BatchIterator walks one epoch. Next returns io.EOF once the epoch is done.
type BatchIterator interface {
	Next() (Minibatch, error)
}

// Source is what the trainer reads from.
type Source interface {
	TrainSize() int // batches per epoch
	NumWords() int
	Weight() *mat.Dense // (wordDim x NumWords) pretrained vectors
	Batches() BatchIterator
}
