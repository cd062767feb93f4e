package bnn

import (
	"fmt"
	"math/rand"
	"runtime"

	"bnn-backend/internal/dataset"

	"gonum.org/v1/gonum/stat"
)

// PredictionRecord summarizes the empirical predictive distribution for one
// input row. GroundTruth is nil when the row has no target value.
type PredictionRecord struct {
	RowID       string
	Mean        float64
	Uncertainty float64
	GroundTruth *float64
}

// Predictor draws repeated stochastic forward passes from a trained model to
// estimate a predictive mean and dispersion per row. Rows are scored in
// parallel; each row derives its own random source from the base seed and
// the row index, so results do not depend on worker count.
type Predictor struct {
	samples int
	seed    int64
	workers int
}

func NewPredictor(samples int, seed int64) (*Predictor, error) {
	if samples < 1 {
		return nil, fmt.Errorf("monte carlo sample count must be >= 1, got %d", samples)
	}
	return &Predictor{samples: samples, seed: seed, workers: runtime.NumCPU()}, nil
}

// PredictDataset scores every row of a joined dataset, carrying the ground
// truth through for residual diagnostics.
func (p *Predictor) PredictDataset(model StochasticRegressor, ds *dataset.Dataset) []PredictionRecord {
	return runIndexed(ds.Rows, p.workers, func(i int, row dataset.Row) PredictionRecord {
		truth := row.Target
		rec := p.predictRow(model, int64(i), row.ID, row.Latent)
		rec.GroundTruth = &truth
		return rec
	})
}

// PredictLatent scores a latent table that has no target values, e.g. when
// re-scoring a trained checkpoint against a new survey.
func (p *Predictor) PredictLatent(model StochasticRegressor, table *dataset.LatentTable) []PredictionRecord {
	return runIndexed(table.IDs, p.workers, func(i int, id string) PredictionRecord {
		return p.predictRow(model, int64(i), id, table.Vectors[i])
	})
}

func (p *Predictor) predictRow(model StochasticRegressor, rowIndex int64, id string, latent []float64) PredictionRecord {
	// Splitmix-style seed derivation keeps per-row streams independent.
	rng := rand.New(rand.NewSource(p.seed ^ (rowIndex+1)*0x9e3779b9))

	draws := make([]float64, p.samples)
	for s := range draws {
		draws[s] = model.SampleForward(latent, rng)
	}

	rec := PredictionRecord{RowID: id, Mean: stat.Mean(draws, nil)}
	if p.samples > 1 {
		rec.Uncertainty = stat.StdDev(draws, nil)
	}
	return rec
}
