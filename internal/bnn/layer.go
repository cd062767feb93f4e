package bnn

import (
	"math"
	"math/rand"
)

// bayesianLinear is a fully-connected layer whose weights are distributions
// rather than point values. Each weight carries a mean (mu) and a raw scale
// parameter (rho) with sigma = softplus(rho); a forward pass draws
// w = mu + sigma*eps, eps ~ N(0,1), so repeated passes over the same input
// produce different outputs.
type bayesianLinear struct {
	in, out int

	// flattened [out*in] and [out] parameter vectors
	wMu, wRho []float64
	bMu, bRho []float64

	gWMu, gWRho []float64
	gBMu, gBRho []float64
}

const initRho = -5.0

func newBayesianLinear(in, out int, rng *rand.Rand) *bayesianLinear {
	l := &bayesianLinear{
		in:    in,
		out:   out,
		wMu:   make([]float64, out*in),
		wRho:  make([]float64, out*in),
		bMu:   make([]float64, out),
		bRho:  make([]float64, out),
		gWMu:  make([]float64, out*in),
		gWRho: make([]float64, out*in),
		gBMu:  make([]float64, out),
		gBRho: make([]float64, out),
	}

	for i := range l.wMu {
		l.wMu[i] = rng.NormFloat64() * 0.1
		l.wRho[i] = initRho
	}
	for i := range l.bMu {
		l.bMu[i] = rng.NormFloat64() * 0.1
		l.bRho[i] = initRho
	}

	return l
}

// linearCache records everything a forward pass sampled so the matching
// backward pass can differentiate through the same draw.
type linearCache struct {
	x    []float64
	epsW []float64
	epsB []float64
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (l *bayesianLinear) forward(x []float64, rng *rand.Rand) ([]float64, *linearCache) {
	cache := &linearCache{
		x:    x,
		epsW: make([]float64, l.out*l.in),
		epsB: make([]float64, l.out),
	}

	y := make([]float64, l.out)
	for i := 0; i < l.out; i++ {
		sum := 0.0
		for j := 0; j < l.in; j++ {
			k := i*l.in + j
			eps := rng.NormFloat64()
			cache.epsW[k] = eps
			w := l.wMu[k] + softplus(l.wRho[k])*eps
			sum += w * x[j]
		}
		epsB := rng.NormFloat64()
		cache.epsB[i] = epsB
		y[i] = sum + l.bMu[i] + softplus(l.bRho[i])*epsB
	}

	return y, cache
}

// backward accumulates parameter gradients for the sampled pass recorded in
// cache and returns the gradient with respect to the layer input.
func (l *bayesianLinear) backward(cache *linearCache, gradY []float64) []float64 {
	gradX := make([]float64, l.in)

	for i := 0; i < l.out; i++ {
		g := gradY[i]
		for j := 0; j < l.in; j++ {
			k := i*l.in + j
			eps := cache.epsW[k]
			w := l.wMu[k] + softplus(l.wRho[k])*eps

			l.gWMu[k] += g * cache.x[j]
			l.gWRho[k] += g * cache.x[j] * eps * sigmoid(l.wRho[k])
			gradX[j] += g * w
		}
		l.gBMu[i] += g
		l.gBRho[i] += g * cache.epsB[i] * sigmoid(l.bRho[i])
	}

	return gradX
}

// kl returns the closed-form KL divergence between the layer's weight
// posterior N(mu, sigma) and the standard normal prior, summed over all
// weights and biases.
func (l *bayesianLinear) kl() float64 {
	total := 0.0
	for _, p := range [][2][]float64{{l.wMu, l.wRho}, {l.bMu, l.bRho}} {
		mu, rho := p[0], p[1]
		for i := range mu {
			sigma := softplus(rho[i])
			total += -math.Log(sigma) + (sigma*sigma+mu[i]*mu[i]-1)/2
		}
	}
	return total
}

// klBackward accumulates the gradient of scale*kl() into the parameter
// gradients.
func (l *bayesianLinear) klBackward(scale float64) {
	for _, p := range [][4][]float64{
		{l.wMu, l.wRho, l.gWMu, l.gWRho},
		{l.bMu, l.bRho, l.gBMu, l.gBRho},
	} {
		mu, rho, gMu, gRho := p[0], p[1], p[2], p[3]
		for i := range mu {
			sigma := softplus(rho[i])
			gMu[i] += scale * mu[i]
			gRho[i] += scale * (sigma - 1/sigma) * sigmoid(rho[i])
		}
	}
}

func (l *bayesianLinear) params() [][]float64 {
	return [][]float64{l.wMu, l.wRho, l.bMu, l.bRho}
}

func (l *bayesianLinear) grads() [][]float64 {
	return [][]float64{l.gWMu, l.gWRho, l.gBMu, l.gBRho}
}

func (l *bayesianLinear) zeroGrad() {
	for _, g := range l.grads() {
		for i := range g {
			g[i] = 0
		}
	}
}
