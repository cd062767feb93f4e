package bnn

import "math"

// adam is a standard Adam optimizer over a fixed set of parameter slices.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	step int
	m, v [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	opt := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		opt.m = append(opt.m, make([]float64, len(p)))
		opt.v = append(opt.v, make([]float64, len(p)))
	}
	return opt
}

func (a *adam) update(params, grads [][]float64) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, p := range params {
		g := grads[i]
		for j := range p {
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g[j]
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g[j]*g[j]

			mHat := a.m[i][j] / c1
			vHat := a.v[i][j] / c2
			p[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
