package IO

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Special tokens kept at the start of the vocab. <pad> must stay at PadID.
var special = []string{"<pad>", "<unk>"}

// WordTokenizer is a lowercase whitespace/punctuation splitter over a
// frequency-ranked vocabulary. It is the fallback when no tokenizer.json is
// given, and what GloVe vectors are keyed by.
type WordTokenizer struct {
	tokenToID map[string]int
	idToToken []string
}

// NewWordTokenizer keeps the size most frequent words of texts, specials included.
func NewWordTokenizer(texts []string, size int) *WordTokenizer {
	counts := make(map[string]int, 1<<12)
	for _, s := range texts {
		for _, t := range TokenizeEN(s) {
			counts[t]++
		}
	}
	return NewWordTokenizerFromVocab(buildFixedVocabFromCounts(counts, size))
}

func NewWordTokenizerFromVocab(vocab []string) *WordTokenizer {
	tok2id := make(map[string]int, len(vocab))
	for i, t := range vocab {
		tok2id[t] = i
	}
	return &WordTokenizer{tokenToID: tok2id, idToToken: vocab}
}

func (w *WordTokenizer) Encode(text string) ([]int, error) {
	unk, ok := w.tokenToID["<unk>"]
	if !ok {
		return nil, fmt.Errorf("vocab has no <unk> token")
	}
	toks := TokenizeEN(text)
	ids := make([]int, len(toks))
	for i, t := range toks {
		if id, ok := w.tokenToID[t]; ok {
			ids[i] = id
		} else {
			ids[i] = unk
		}
	}
	return ids, nil
}

func (w *WordTokenizer) Vocab() []string { return w.idToToken }

// TokenizeEN lowercases s and splits it into words and single punctuation marks.
func TokenizeEN(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			out = append(out, string(r))
		}
	}
	flush()
	return out
}

func buildFixedVocabFromCounts(cnt map[string]int, size int) []string {
	size = max(size, len(special))
	type kv struct {
		k string
		v int
	}
	arr := make([]kv, 0, len(cnt))
	for k, v := range cnt {
		arr = append(arr, kv{k, v})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].v == arr[j].v {
			return arr[i].k < arr[j].k
		}
		return arr[i].v > arr[j].v
	})
	idToToken := append([]string{}, special...)
	for _, p := range arr {
		if len(idToToken) >= size {
			break
		}
		if p.k == "<pad>" || p.k == "<unk>" {
			continue
		}
		idToToken = append(idToToken, p.k)
	}
	return idToToken
}
