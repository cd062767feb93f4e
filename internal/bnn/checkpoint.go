package bnn

import (
	"encoding/json"
	"fmt"
	"os"
)

// layerState is the serialized form of one bayesianLinear: the full
// (mu, rho) parameter sets, not point weights.
type layerState struct {
	In   int       `json:"in"`
	Out  int       `json:"out"`
	WMu  []float64 `json:"w_mu"`
	WRho []float64 `json:"w_rho"`
	BMu  []float64 `json:"b_mu"`
	BRho []float64 `json:"b_rho"`
}

// Checkpoint is the persisted model: distribution parameters plus the
// hyperparameters of the run that produced it, mirroring the original
// model dictionary.
type Checkpoint struct {
	InputDim  int `json:"input_dim"`
	HiddenDim int `json:"hidden_dim"`

	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	ELBOSamples  int     `json:"elbo_samples"`
	KLWeight     float64 `json:"kl_weight"`

	Hidden layerState `json:"hidden"`
	Output layerState `json:"output"`
}

func snapshotLayer(l *bayesianLinear) layerState {
	return layerState{
		In:   l.in,
		Out:  l.out,
		WMu:  append([]float64(nil), l.wMu...),
		WRho: append([]float64(nil), l.wRho...),
		BMu:  append([]float64(nil), l.bMu...),
		BRho: append([]float64(nil), l.bRho...),
	}
}

func restoreLayer(s layerState) (*bayesianLinear, error) {
	if len(s.WMu) != s.In*s.Out || len(s.WRho) != s.In*s.Out || len(s.BMu) != s.Out || len(s.BRho) != s.Out {
		return nil, fmt.Errorf("inconsistent layer state: %dx%d with %d/%d weight and %d/%d bias parameters",
			s.In, s.Out, len(s.WMu), len(s.WRho), len(s.BMu), len(s.BRho))
	}
	return &bayesianLinear{
		in:    s.In,
		out:   s.Out,
		wMu:   append([]float64(nil), s.WMu...),
		wRho:  append([]float64(nil), s.WRho...),
		bMu:   append([]float64(nil), s.BMu...),
		bRho:  append([]float64(nil), s.BRho...),
		gWMu:  make([]float64, s.In*s.Out),
		gWRho: make([]float64, s.In*s.Out),
		gBMu:  make([]float64, s.Out),
		gBRho: make([]float64, s.Out),
	}, nil
}

// Checkpoint captures the model state and the options it was trained with.
func (r *Regressor) Checkpoint(opts TrainOptions) *Checkpoint {
	opts = opts.withDefaults()
	return &Checkpoint{
		InputDim:     r.inputDim,
		HiddenDim:    r.hiddenDim,
		Epochs:       opts.Epochs,
		BatchSize:    opts.BatchSize,
		LearningRate: opts.LearningRate,
		ELBOSamples:  opts.ELBOSamples,
		KLWeight:     opts.KLWeight,
		Hidden:       snapshotLayer(r.hidden),
		Output:       snapshotLayer(r.output),
	}
}

// Restore reconstructs a model identical to the one the checkpoint was
// taken from.
func (c *Checkpoint) Restore() (*Regressor, error) {
	hidden, err := restoreLayer(c.Hidden)
	if err != nil {
		return nil, fmt.Errorf("restoring hidden layer: %w", err)
	}
	output, err := restoreLayer(c.Output)
	if err != nil {
		return nil, fmt.Errorf("restoring output layer: %w", err)
	}
	return &Regressor{
		inputDim:  c.InputDim,
		hiddenDim: c.HiddenDim,
		hidden:    hidden,
		output:    output,
	}, nil
}

// LoadCheckpoint reads a serialized checkpoint from disk.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return &c, nil
}
