package models

import (
	"time"

	"github.com/google/uuid"
)

// --- Task Payload Structs ---

type TrainTaskPayload struct {
	RunId uuid.UUID
}

type PredictTaskPayload struct {
	RunId uuid.UUID
}

// --- API Structs ---

type TrainRequest struct {
	// Identifier is the compact run descriptor, e.g. "dM4h6432".
	Identifier string `validate:"required"`

	// Seed controls weight init, the train/validation split and the Monte
	// Carlo streams. Zero means derive one from the run id.
	Seed int64

	// SplitRatio is the train fraction of the joined dataset. Zero means 0.8.
	SplitRatio float64
}

type TrainSubmitResponse struct {
	Message string
	RunId   uuid.UUID
}

type PredictRequest struct {
	// LatentPath points at the latent table to score, relative to the data root.
	LatentPath string `validate:"required"`
}

type PredictSubmitResponse struct {
	Message string
	RunId   uuid.UUID
}

// RunParams is the hyperparameter set stored on the run row so the worker
// and the run record agree on what was trained.
type RunParams struct {
	HiddenDim    int
	BatchSize    int
	LearningRate float64
	ELBOSamples  int

	// LatentPath is set on prediction runs only.
	LatentPath string `json:"LatentPath,omitempty"`
}

func DefaultRunParams() RunParams {
	return RunParams{
		HiddenDim:    128,
		BatchSize:    16,
		LearningRate: 0.01,
		ELBOSamples:  3,
	}
}

type Run struct {
	Id        uuid.UUID
	BaseRunId *uuid.UUID

	Identifier string
	CalcType   string
	Layer      string
	Resolution string
	LatentDim  int
	Epochs     int
	MCSamples  int

	Status string
	Error  string `json:"Error,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type EpochLogEntry struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
}

type PredictionEntry struct {
	RowId       string
	Mean        float64
	Uncertainty float64
	GroundTruth *float64 `json:"GroundTruth,omitempty"`
}
