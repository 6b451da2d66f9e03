package optimizations

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Param is a trainable matrix and its gradient buffer.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func NewParam(name string, value *mat.Dense) *Param {
	r, c := value.Dims()
	return &Param{Name: name, Value: value, Grad: mat.NewDense(r, c, nil)}
}

// Accumulate adds g into the gradient buffer.
func (p *Param) Accumulate(g mat.Matrix) {
	p.Grad.Add(p.Grad, g)
}

func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Size is the number of scalars in the param.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// Optimizer updates params in place from their accumulated gradients.
type Optimizer interface {
	Step(params []*Param)
	ZeroGrad(params []*Param)
}

// New builds the optimizer named by kind ("adam" or "sgd").
func New(kind string, lr, weightDecay, beta1, beta2, eps float64) (Optimizer, error) {
	switch kind {
	case "adam":
		return NewAdam(lr, beta1, beta2, eps, weightDecay), nil
	case "sgd":
		return NewSGD(lr, weightDecay), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", kind)
}

// Grads collects the gradient buffers, e.g. for global-norm clipping.
func Grads(params []*Param) []*mat.Dense {
	out := make([]*mat.Dense, len(params))
	for i, p := range params {
		out[i] = p.Grad
	}
	return out
}

func zeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
