package IO

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
)

type BuildOptions struct {
	InputPath string // JSONL, one {"document", "summary", "negatives"} object per line
	OutPath   string // msgpack dump; vocab.json is written next to it
	GloVePath string // optional pretrained vectors
	WordDim   int
	MaxDocLen int // 0 keeps everything
	MaxSumLen int
	Seed      int64
}

type jsonRecord struct {
	Document  string   `json:"document"`
	Summary   string   `json:"summary"`
	Negatives []string `json:"negatives,omitempty"`
}

// BuildDataset tokenizes a JSONL corpus, seeds word vectors and writes the
// dataset dump plus vocab.json. Records whose document or summary encode to
// nothing are skipped.
func BuildDataset(enc TextEncoder, opts BuildOptions, logger *slog.Logger) (*Dataset, error) {
	f, err := os.Open(opts.InputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	encode := func(text string, limit int) ([]int, error) {
		ids, err := enc.Encode(text)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(ids) > limit {
			ids = ids[:limit]
		}
		return ids, nil
	}

	var examples []Example
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 64<<20)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec jsonRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", opts.InputPath, lineNum, err)
		}
		doc, err := encode(rec.Document, opts.MaxDocLen)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", opts.InputPath, lineNum, err)
		}
		sum, err := encode(rec.Summary, opts.MaxSumLen)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", opts.InputPath, lineNum, err)
		}
		if len(doc) == 0 || len(sum) == 0 {
			skipped++
			continue
		}
		ex := Example{Doc: doc, Sum: sum}
		for _, n := range rec.Negatives {
			ids, err := encode(n, opts.MaxSumLen)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", opts.InputPath, lineNum, err)
			}
			if len(ids) > 0 {
				ex.Negatives = append(ex.Negatives, ids)
			}
		}
		examples = append(examples, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	vocab := enc.Vocab()
	seed := uint64(opts.Seed)
	weight, hits, err := LoadGloVe(opts.GloVePath, vocab, opts.WordDim, rand.New(rand.NewPCG(seed, seed+1)))
	if err != nil {
		return nil, err
	}
	logger.Info("dataset built",
		"examples", len(examples), "skipped", skipped,
		"vocab", len(vocab), "pretrained_hits", hits)

	d, err := NewDataset(examples, weight, vocab, Options{BatchSize: 1, NegativeCount: 1, Seed: opts.Seed})
	if err != nil {
		return nil, err
	}
	if err := SaveDataset(opts.OutPath, d); err != nil {
		return nil, err
	}
	if err := ExportVocabJSON(filepath.Join(filepath.Dir(opts.OutPath), "vocab.json"), vocab); err != nil {
		return nil, err
	}
	return d, nil
}
