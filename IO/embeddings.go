package IO

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/Liatwilight/DeepChannel/utils"
	"gonum.org/v1/gonum/mat"
)

const wordInitStd = 0.01

// initEmbeddings returns a (dim x |vocab|) table of small random vectors.
func initEmbeddings(dim, numWords int, rng *rand.Rand) *mat.Dense {
	return mat.NewDense(dim, numWords, utils.GaussianArray(dim*numWords, wordInitStd, rng))
}

// LoadGloVe builds a (dim x |vocab|) table from a GloVe text file
// ("word v1 ... vdim" per line). Words absent from the file keep a random
// vector. It returns the table and how many vocab words were found.
func LoadGloVe(path string, vocab []string, dim int, rng *rand.Rand) (*mat.Dense, int, error) {
	w := initEmbeddings(dim, len(vocab), rng)
	if path == "" {
		return w, 0, nil
	}
	index := make(map[string]int, len(vocab))
	for i, t := range vocab {
		index[t] = i
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20) // 1MB buffer
	hits := 0
	lineNum := 0
	col := make([]float64, dim)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			lineNum++
			fields := strings.Fields(line)
			if len(fields) == dim+1 {
				if id, ok := index[fields[0]]; ok {
					for k, s := range fields[1:] {
						v, perr := strconv.ParseFloat(s, 64)
						if perr != nil {
							return nil, hits, fmt.Errorf("%s:%d: %w", path, lineNum, perr)
						}
						col[k] = v
					}
					w.SetCol(id, col)
					hits++
				}
			} else if len(fields) > 0 && lineNum > 1 {
				// the first line may be a "count dim" header
				return nil, hits, fmt.Errorf("%s:%d: %d fields, want %d", path, lineNum, len(fields), dim+1)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, hits, err
		}
	}
	return w, hits, nil
}
