package bnn

import (
	"math/rand"
	"testing"

	"bnn-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T, dim int) *Regressor {
	t.Helper()
	model, err := NewRegressor(dim, 8, rand.New(rand.NewSource(100)))
	require.NoError(t, err)
	return model
}

func TestPredictDataset(t *testing.T) {
	ds := syntheticDataset(t, 25, 3, 101)
	model := testModel(t, 3)

	predictor, err := NewPredictor(10, 7)
	require.NoError(t, err)

	records := predictor.PredictDataset(model, ds)
	require.Len(t, records, ds.Len())

	for i, rec := range records {
		assert.Equal(t, ds.Rows[i].ID, rec.RowID, "every prediction corresponds to an input row, in order")
		require.NotNil(t, rec.GroundTruth)
		assert.Equal(t, ds.Rows[i].Target, *rec.GroundTruth)
		assert.Greater(t, rec.Uncertainty, 0.0, "stochastic model must report non-zero dispersion")
	}
}

func TestPredictLatentHasNoGroundTruth(t *testing.T) {
	table := &dataset.LatentTable{
		IDs:     []string{"a", "b"},
		Vectors: [][]float64{{0.1, 0.2}, {0.3, 0.4}},
	}
	model := testModel(t, 2)

	predictor, err := NewPredictor(5, 7)
	require.NoError(t, err)

	records := predictor.PredictLatent(model, table)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Nil(t, rec.GroundTruth)
	}
}

func TestPredictSingleSampleIsDegenerateButValid(t *testing.T) {
	model := testModel(t, 2)
	table := &dataset.LatentTable{IDs: []string{"a"}, Vectors: [][]float64{{0.5, 0.5}}}

	predictor, err := NewPredictor(1, 7)
	require.NoError(t, err)

	records := predictor.PredictLatent(model, table)
	require.Len(t, records, 1)
	assert.Zero(t, records[0].Uncertainty)
}

func TestPredictRejectsZeroSamples(t *testing.T) {
	_, err := NewPredictor(0, 7)
	assert.Error(t, err)
}

func TestPredictMeansConvergeAcrossSeeds(t *testing.T) {
	model := testModel(t, 2)
	table := &dataset.LatentTable{IDs: []string{"a"}, Vectors: [][]float64{{0.5, -0.5}}}

	p1, err := NewPredictor(500, 1)
	require.NoError(t, err)
	p2, err := NewPredictor(500, 2)
	require.NoError(t, err)

	r1 := p1.PredictLatent(model, table)
	r2 := p2.PredictLatent(model, table)

	// With many samples the empirical means agree regardless of seed.
	assert.InDelta(t, r1[0].Mean, r2[0].Mean, 0.05)
}

func TestPredictDoesNotMutateModel(t *testing.T) {
	model := testModel(t, 2)
	before := model.Checkpoint(TrainOptions{})

	predictor, err := NewPredictor(20, 7)
	require.NoError(t, err)
	predictor.PredictLatent(model, &dataset.LatentTable{IDs: []string{"a"}, Vectors: [][]float64{{1, 2}}})

	assert.Equal(t, before, model.Checkpoint(TrainOptions{}))
}

func TestPredictInvariantToParallelism(t *testing.T) {
	model := testModel(t, 3)
	ds := syntheticDataset(t, 40, 3, 103)

	serial, err := NewPredictor(10, 9)
	require.NoError(t, err)
	serial.workers = 1

	parallel, err := NewPredictor(10, 9)
	require.NoError(t, err)
	parallel.workers = 8

	assert.Equal(t, serial.PredictDataset(model, ds), parallel.PredictDataset(model, ds))
}
