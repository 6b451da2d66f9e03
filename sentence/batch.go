package sentence

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBatch     = errors.New("empty batch")
	ErrRagged         = errors.New("rows padded to different lengths")
	ErrBadLength      = errors.New("length outside [1, maxlen]")
	ErrBadToken       = errors.New("token id outside vocabulary")
	ErrUnknownEncoder = errors.New("unknown sentence encoder")
)

// Batch is a [batch][maxlen] block of token ids plus the true length of each row.
// Entries at or beyond Lengths[i] are padding.
type Batch struct {
	IDs     [][]int
	Lengths []int
}

func (b Batch) Size() int { return len(b.IDs) }

// MaxLen is the padded length L shared by every row.
func (b Batch) MaxLen() int {
	if len(b.IDs) == 0 {
		return 0
	}
	return len(b.IDs[0])
}

// Validate checks the shape precondition: equal row lengths and
// 1 <= Lengths[i] <= maxlen for every row.
func (b Batch) Validate() error {
	if len(b.IDs) == 0 {
		return ErrEmptyBatch
	}
	if len(b.Lengths) != len(b.IDs) {
		return fmt.Errorf("%w: %d lengths for %d rows", ErrBadLength, len(b.Lengths), len(b.IDs))
	}
	L := len(b.IDs[0])
	for i, row := range b.IDs {
		if len(row) != L {
			return fmt.Errorf("%w: row %d has %d ids, row 0 has %d", ErrRagged, i, len(row), L)
		}
		if n := b.Lengths[i]; n < 1 || n > L {
			return fmt.Errorf("%w: row %d length %d, maxlen %d", ErrBadLength, i, n, L)
		}
	}
	return nil
}

func (b Batch) checkVocab(numWords int) error {
	for i, row := range b.IDs {
		for t, id := range row {
			if id < 0 || id >= numWords {
				return fmt.Errorf("%w: row %d step %d id %d (vocab %d)", ErrBadToken, i, t, id, numWords)
			}
		}
	}
	return nil
}

// Pad builds a Batch from unpadded rows, filling with padID up to the longest row.
func Pad(rows [][]int, padID int) Batch {
	L := 0
	for _, r := range rows {
		L = max(L, len(r))
	}
	b := Batch{IDs: make([][]int, len(rows)), Lengths: make([]int, len(rows))}
	for i, r := range rows {
		row := make([]int, L)
		copy(row, r)
		for t := len(r); t < L; t++ {
			row[t] = padID
		}
		b.IDs[i] = row
		b.Lengths[i] = len(r)
	}
	return b
}
