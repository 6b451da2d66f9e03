package IO

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Liatwilight/DeepChannel/optimizations"
	"gonum.org/v1/gonum/mat"
)

// ParamRecord is one named matrix inside a parameter blob.
type ParamRecord struct {
	Name string
	Rows int
	Cols int
	Data []float64 // row-major
}

func (r ParamRecord) Dense() *mat.Dense {
	return mat.NewDense(r.Rows, r.Cols, append([]float64(nil), r.Data...))
}

// SaveParams writes the values of params to path as one gob blob.
func SaveParams(path string, params []*optimizations.Param) error {
	recs := make([]ParamRecord, len(params))
	for i, p := range params {
		r, c := p.Value.Dims()
		recs[i] = ParamRecord{
			Name: p.Name,
			Rows: r,
			Cols: c,
			Data: mat.DenseCopyOf(p.Value).RawMatrix().Data,
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(recs); err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func LoadParams(path string) ([]ParamRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var recs []ParamRecord
	if err := gob.NewDecoder(f).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}

// RestoreParams copies a blob into params, matching by name and shape.
func RestoreParams(path string, params []*optimizations.Param) error {
	recs, err := LoadParams(path)
	if err != nil {
		return err
	}
	byName := make(map[string]ParamRecord, len(recs))
	for _, r := range recs {
		byName[r.Name] = r
	}
	for _, p := range params {
		rec, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%s: missing param %s", path, p.Name)
		}
		r, c := p.Value.Dims()
		if rec.Rows != r || rec.Cols != c {
			return fmt.Errorf("%s: param %s is %dx%d, want %dx%d", path, p.Name, rec.Rows, rec.Cols, r, c)
		}
		p.Value.Copy(rec.Dense())
	}
	return nil
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
