package bnn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"bnn-backend/internal/dataset"
)

// ErrTrainingDiverged reports a non-finite loss. The trainer never continues
// past divergence; the log accumulated up to the failing epoch is preserved.
var ErrTrainingDiverged = errors.New("training diverged: loss is not finite")

// TrainOptions are the hyperparameters of one training run. Epochs comes
// from the job descriptor; the rest default to the original engine values.
type TrainOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64

	// ELBOSamples is the number of weight draws averaged per gradient step.
	ELBOSamples int

	// KLWeight scales the complexity term on top of the 1/N_train factor.
	KLWeight float64
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.01
	}
	if o.ELBOSamples <= 0 {
		o.ELBOSamples = 3
	}
	if o.KLWeight <= 0 {
		o.KLWeight = 1
	}
	return o
}

// EpochRecord is one row of the training log.
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
}

// Trainer owns the optimization of a Regressor. The random source is
// explicit: a fixed seed, descriptor and dataset reproduce the run
// bit-for-bit.
type Trainer struct {
	opts TrainOptions
	rng  *rand.Rand

	// OnEpoch, when set, observes each record as it is produced. Used for
	// progress reporting; errors are not expected from it.
	OnEpoch func(EpochRecord)
}

func NewTrainer(opts TrainOptions, rng *rand.Rand) *Trainer {
	return &Trainer{opts: opts.withDefaults(), rng: rng}
}

// Train optimizes the model against the training partition, minimizing the
// variational objective: averaged sampled MSE plus the KL divergence of the
// weight posteriors to the prior, weighted by KLWeight/N_train. After each
// epoch the data-fit term is evaluated on the validation partition without
// updating weights.
func (t *Trainer) Train(model *Regressor, train, val *dataset.Dataset) ([]EpochRecord, error) {
	if train.Len() == 0 {
		return nil, fmt.Errorf("training partition is empty")
	}
	if dim := train.Dim(); dim != model.InputDim() {
		return nil, fmt.Errorf("latent dimension mismatch: dataset has %d, model expects %d", dim, model.InputDim())
	}

	opt := newAdam(t.opts.LearningRate, model.params())
	klScale := t.opts.KLWeight / float64(train.Len())

	log := make([]EpochRecord, 0, t.opts.Epochs)

	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		perm := t.rng.Perm(train.Len())

		epochLoss := 0.0
		batches := 0

		for start := 0; start < len(perm); start += t.opts.BatchSize {
			end := min(start+t.opts.BatchSize, len(perm))
			batch := perm[start:end]

			model.zeroGrad()
			fit := 0.0
			norm := float64(len(batch) * t.opts.ELBOSamples)

			for _, idx := range batch {
				row := train.Rows[idx]
				for s := 0; s < t.opts.ELBOSamples; s++ {
					pred, hCache, act, oCache := model.forward(row.Latent, t.rng)
					residual := pred - row.Target
					fit += residual * residual / norm
					model.backward(2*residual/norm, hCache, act, oCache)
				}
			}

			model.klBackward(klScale)
			opt.update(model.params(), model.grads())

			epochLoss += fit + klScale*model.kl()
			batches++
		}

		record := EpochRecord{
			Epoch:     epoch,
			TrainLoss: epochLoss / float64(batches),
			ValLoss:   t.validate(model, val),
		}

		if !isFinite(record.TrainLoss) || !isFinite(record.ValLoss) {
			return log, fmt.Errorf("%w (epoch %d, train_loss=%v, val_loss=%v)",
				ErrTrainingDiverged, epoch, record.TrainLoss, record.ValLoss)
		}

		log = append(log, record)
		if t.OnEpoch != nil {
			t.OnEpoch(record)
		}
	}

	return log, nil
}

// validate computes the data-fit term on the held-out rows. Weights are
// sampled but never updated.
func (t *Trainer) validate(model *Regressor, val *dataset.Dataset) float64 {
	if val == nil || val.Len() == 0 {
		return 0
	}

	mse := 0.0
	for _, row := range val.Rows {
		pred := model.SampleForward(row.Latent, t.rng)
		residual := pred - row.Target
		mse += residual * residual
	}
	return mse / float64(val.Len())
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
