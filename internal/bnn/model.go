package bnn

import (
	"fmt"
	"math/rand"
)

// StochasticRegressor is the capability the Monte Carlo predictor relies on:
// a single stochastic forward pass. Any variational technique that can sample
// a prediction satisfies it.
type StochasticRegressor interface {
	SampleForward(x []float64, rng *rand.Rand) float64
}

// DefaultHiddenDim matches the original network: one hidden layer of 128
// sigmoid units between the latent input and the scalar output head.
const DefaultHiddenDim = 128

// Regressor is a two-layer fully-connected Bayesian network mapping a latent
// vector to a scalar target. Weights are (mu, rho) distribution parameters;
// see bayesianLinear.
type Regressor struct {
	inputDim  int
	hiddenDim int

	hidden *bayesianLinear
	output *bayesianLinear
}

var _ StochasticRegressor = (*Regressor)(nil)

func NewRegressor(inputDim, hiddenDim int, rng *rand.Rand) (*Regressor, error) {
	if inputDim < 1 {
		return nil, fmt.Errorf("input dimension must be >= 1, got %d", inputDim)
	}
	if hiddenDim < 1 {
		hiddenDim = DefaultHiddenDim
	}

	return &Regressor{
		inputDim:  inputDim,
		hiddenDim: hiddenDim,
		hidden:    newBayesianLinear(inputDim, hiddenDim, rng),
		output:    newBayesianLinear(hiddenDim, 1, rng),
	}, nil
}

func (r *Regressor) InputDim() int  { return r.inputDim }
func (r *Regressor) HiddenDim() int { return r.hiddenDim }

// SampleForward draws fresh weights from the current posteriors and runs one
// forward pass. It never mutates the learned distributions.
func (r *Regressor) SampleForward(x []float64, rng *rand.Rand) float64 {
	y, _, _, _ := r.forward(x, rng)
	return y
}

// forward runs a sampled pass keeping the caches needed for backward.
func (r *Regressor) forward(x []float64, rng *rand.Rand) (float64, *linearCache, []float64, *linearCache) {
	pre, hCache := r.hidden.forward(x, rng)
	act := make([]float64, len(pre))
	for i, v := range pre {
		act[i] = sigmoid(v)
	}
	out, oCache := r.output.forward(act, rng)
	return out[0], hCache, act, oCache
}

// backward pushes the loss gradient of one sampled pass through both layers,
// accumulating parameter gradients.
func (r *Regressor) backward(gradPred float64, hCache *linearCache, act []float64, oCache *linearCache) {
	gradAct := r.output.backward(oCache, []float64{gradPred})
	gradPre := make([]float64, len(gradAct))
	for i, g := range gradAct {
		gradPre[i] = g * act[i] * (1 - act[i])
	}
	r.hidden.backward(hCache, gradPre)
}

func (r *Regressor) kl() float64 {
	return r.hidden.kl() + r.output.kl()
}

func (r *Regressor) klBackward(scale float64) {
	r.hidden.klBackward(scale)
	r.output.klBackward(scale)
}

func (r *Regressor) params() [][]float64 {
	return append(r.hidden.params(), r.output.params()...)
}

func (r *Regressor) grads() [][]float64 {
	return append(r.hidden.grads(), r.output.grads()...)
}

func (r *Regressor) zeroGrad() {
	r.hidden.zeroGrad()
	r.output.zeroGrad()
}
