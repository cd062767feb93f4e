package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued    string = "QUEUED"
	RunRunning   string = "RUNNING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
	RunDiverged  string = "DIVERGED"
)

// Run is one training or prediction job. Prediction runs reference the
// training run whose checkpoint they score with via BaseRunId.
type Run struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	BaseRunId uuid.NullUUID `gorm:"type:uuid"`
	BaseRun   *Run          `gorm:"foreignKey:BaseRunId"`

	Identifier string `gorm:"size:32;not null"`
	CalcType   string `gorm:"size:20;not null"`
	Layer      string `gorm:"size:20;not null"`
	Resolution string `gorm:"size:20;not null"`
	LatentDim  int
	Epochs     int
	MCSamples  int

	Seed       int64
	SplitRatio float64

	// Params holds the full hyperparameter set the worker trained with.
	Params datatypes.JSON `gorm:"type:jsonb"`

	Status string `gorm:"size:20;not null"`
	Error  string

	// ArtifactPrefix is the object store prefix the run's log, predictions
	// and checkpoint are uploaded under.
	ArtifactPrefix string

	CreationTime   time.Time
	CompletionTime sql.NullTime

	EpochLogs   []EpochLog   `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
	Predictions []Prediction `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type EpochLog struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Epoch int       `gorm:"primaryKey"`

	TrainLoss float64
	ValLoss   float64
}

type Prediction struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	RowId string    `gorm:"primaryKey;size:255"`

	Mean        float64
	Uncertainty float64
	GroundTruth sql.NullFloat64
}
