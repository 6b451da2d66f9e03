package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix functions used by the encoders and the channel model.

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

// AddBias adds the (r x 1) bias to every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, j)+bias.At(i, 0))
		}
	}
	return out
}

// RowSums returns per-row sums as an (r x 1) column, the bias gradient of AddBias.
func RowSums(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			sum += m.At(i, j)
		}
		out.Set(i, 0, sum)
	}
	return out
}

// RowBlock returns a copy of rows [from, to) of m.
func RowBlock(m *mat.Dense, from, to int) *mat.Dense {
	_, c := m.Dims()
	return mat.DenseCopyOf(m.Slice(from, to, 0, c))
}

// StackRows stacks the blocks vertically; all blocks must share a column count.
func StackRows(blocks ...*mat.Dense) *mat.Dense {
	rows := 0
	_, c := blocks[0].Dims()
	for _, b := range blocks {
		br, bc := b.Dims()
		if bc != c {
			panic(fmt.Sprintf("StackRows: column mismatch %d vs %d", bc, c))
		}
		rows += br
	}
	out := mat.NewDense(rows, c, nil)
	at := 0
	for _, b := range blocks {
		br, _ := b.Dims()
		out.Slice(at, at+br, 0, c).(*mat.Dense).Copy(b)
		at += br
	}
	return out
}

// ---------- Activations ----------

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
