package optimizations

// SGD: param -= lr * (grad + weightDecay * param).
type SGD struct {
	LR, WeightDecay float64
}

func NewSGD(lr, weightDecay float64) *SGD {
	return &SGD{LR: lr, WeightDecay: weightDecay}
}

func (s *SGD) Step(params []*Param) {
	for _, p := range params {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				w := p.Value.At(i, j)
				p.Value.Set(i, j, w-s.LR*(p.Grad.At(i, j)+s.WeightDecay*w))
			}
		}
	}
}

func (s *SGD) ZeroGrad(params []*Param) { zeroGrads(params) }
