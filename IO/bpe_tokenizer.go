package IO

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// TextEncoder turns raw text into token ids of a fixed vocabulary.
type TextEncoder interface {
	Encode(text string) ([]int, error)
	Vocab() []string // indexed by id
}

// BPETokenizer wraps a pretrained tokenizer.json.
type BPETokenizer struct {
	t     *tk.Tokenizer
	vocab []string
}

func LoadBPE(path string) (*BPETokenizer, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	vocab := t.GetVocab(true)
	size := 0
	for _, id := range vocab {
		size = max(size, id+1)
	}
	// ids the tokenizer never hands out still need a column in the table
	id2tok := make([]string, size)
	for i := range id2tok {
		id2tok[i] = fmt.Sprintf("<unused%d>", i)
	}
	for tok, id := range vocab {
		id2tok[id] = tok
	}
	return &BPETokenizer{t: t, vocab: id2tok}, nil
}

// Encode encodes raw text into token IDs without special tokens.
func (b *BPETokenizer) Encode(text string) ([]int, error) {
	enc, err := b.t.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		out[i] = int(v)
	}
	return out, nil
}

func (b *BPETokenizer) Vocab() []string { return b.vocab }
