package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam keeps first/second moments per param. Weight decay is the classic L2
// form: wd*p is added to the gradient before the moments are updated.
type Adam struct {
	LR, Beta1, Beta2, Eps, WeightDecay float64

	t int
	m map[*Param]*mat.Dense
	v map[*Param]*mat.Dense
}

func NewAdam(lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		LR: lr, Beta1: beta1, Beta2: beta2, Eps: eps, WeightDecay: weightDecay,
		m: make(map[*Param]*mat.Dense),
		v: make(map[*Param]*mat.Dense),
	}
}

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

func (a *Adam) Step(params []*Param) {
	a.t++
	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			r, c := p.Value.Dims()
			m = mat.NewDense(r, c, nil)
			a.m[p] = m
			a.v[p] = mat.NewDense(r, c, nil)
		}
		AdamUpdateInPlace(p.Value, p.Grad, m, a.v[p], a.t,
			a.LR, a.Beta1, a.Beta2, a.Eps, a.WeightDecay)
	}
}

func (a *Adam) ZeroGrad(params []*Param) { zeroGrads(params) }

// g' = g + wd*p; p -= lr * mhat / (sqrt(vhat)+eps) with bias correction.
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			pij := p.At(i, j)
			gij := g.At(i, j) + weightDecay*pij
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, pij-lr*mhat/(math.Sqrt(vhat)+eps))
		}
	}
}
