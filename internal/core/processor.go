package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"bnn-backend/internal/bnn"
	"bnn-backend/internal/database"
	"bnn-backend/internal/dataset"
	"bnn-backend/internal/descriptor"
	"bnn-backend/internal/messaging"
	"bnn-backend/internal/storage"
	"bnn-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gorm.io/gorm"
)

// Artifact file names within a run's object store prefix.
const (
	LogArtifact         = "log.csv"
	PredictionsArtifact = "predictions.csv"
	CheckpointArtifact  = "model.json"
)

type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	reciever messaging.Reciever

	resolver *dataset.Resolver
	dataDir  string
	bucket   string
}

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, reciever messaging.Reciever, dataDir, bucket string) *TaskProcessor {
	return &TaskProcessor{
		db:       db,
		storage:  store,
		reciever: reciever,
		resolver: dataset.NewConventionResolver(dataDir),
		dataDir:  dataDir,
		bucket:   bucket,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.TrainQueue:
		var payload models.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.ProcessTrainTask(ctx, payload.RunId)

	case messaging.PredictQueue:
		var payload models.PredictTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling predict task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.ProcessPredictTask(ctx, payload.RunId)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) loadRunParams(run database.Run) (models.RunParams, error) {
	params := models.DefaultRunParams()
	if len(run.Params) > 0 {
		if err := json.Unmarshal(run.Params, &params); err != nil {
			return params, fmt.Errorf("error parsing run params: %w", err)
		}
	}
	return params, nil
}

func (proc *TaskProcessor) ProcessTrainTask(ctx context.Context, runId uuid.UUID) error {
	run, err := database.GetRun(ctx, proc.db, runId)
	if err != nil {
		return fmt.Errorf("error loading run %s: %w", runId, err)
	}

	params, err := proc.loadRunParams(run)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunRunning); err != nil {
		return err
	}

	desc, err := descriptor.Decode(run.Identifier)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("invalid run identifier %q: %w", run.Identifier, err)
	}

	latentPath, targetPath, err := proc.resolver.Resolve(desc)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	latent, err := dataset.LoadLatentTable(latentPath, dataset.DefaultLatentPrefix)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}
	target, err := dataset.LoadTargetTable(targetPath, run.Layer)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	ds, err := dataset.Join(latent, target)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	rng := rand.New(rand.NewSource(run.Seed))

	train, val, err := dataset.Split(ds, run.SplitRatio, rng)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	model, err := bnn.NewRegressor(ds.Dim(), params.HiddenDim, rng)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	opts := bnn.TrainOptions{
		Epochs:       run.Epochs,
		BatchSize:    params.BatchSize,
		LearningRate: params.LearningRate,
		ELBOSamples:  params.ELBOSamples,
	}

	bar := progressbar.NewOptions(run.Epochs,
		progressbar.OptionSetDescription(fmt.Sprintf("training %s", run.Identifier)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	trainer := bnn.NewTrainer(opts, rng)
	trainer.OnEpoch = func(rec bnn.EpochRecord) {
		bar.Add(1) //nolint:errcheck
	}

	slog.Info("starting training", "run_id", runId, "identifier", run.Identifier,
		"rows", ds.Len(), "train_rows", train.Len(), "val_rows", val.Len(), "epochs", run.Epochs)

	epochLog, err := trainer.Train(model, train, val)
	if err != nil {
		if errors.Is(err, bnn.ErrTrainingDiverged) {
			// Divergence is terminal but keeps the partial log for diagnosis.
			proc.saveEpochLogs(ctx, runId, epochLog)
			proc.uploadPartialLog(ctx, run, epochLog)
			database.SaveRunError(ctx, proc.db, runId, database.RunDiverged, err.Error())
			return nil
		}
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	predictor, err := bnn.NewPredictor(run.MCSamples, run.Seed)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}
	predictions := predictor.PredictDataset(model, ds)

	workDir, err := os.MkdirTemp("", "run-artifacts-*")
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error creating artifact directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	paths := bnn.ArtifactPaths{
		Log:         filepath.Join(workDir, LogArtifact),
		Predictions: filepath.Join(workDir, PredictionsArtifact),
		Checkpoint:  filepath.Join(workDir, CheckpointArtifact),
	}

	if err := bnn.WriteArtifacts(paths, model.Checkpoint(opts), epochLog, predictions); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	if err := proc.storage.UploadDir(ctx, proc.bucket, run.ArtifactPrefix, workDir); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error uploading run artifacts: %w", err)
	}

	proc.saveEpochLogs(ctx, runId, epochLog)
	proc.savePredictions(ctx, runId, predictions)

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunCompleted); err != nil {
		return err
	}

	slog.Info("training run completed", "run_id", runId, "identifier", run.Identifier)
	return nil
}

func (proc *TaskProcessor) ProcessPredictTask(ctx context.Context, runId uuid.UUID) error {
	run, err := database.GetRun(ctx, proc.db, runId)
	if err != nil {
		return fmt.Errorf("error loading run %s: %w", runId, err)
	}

	params, err := proc.loadRunParams(run)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	if !run.BaseRunId.Valid {
		err := fmt.Errorf("prediction run %s has no base run", runId)
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunRunning); err != nil {
		return err
	}

	baseRun, err := database.GetRun(ctx, proc.db, run.BaseRunId.UUID)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error loading base run %s: %w", run.BaseRunId.UUID, err)
	}

	workDir, err := os.MkdirTemp("", "run-artifacts-*")
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error creating artifact directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	baseDir := filepath.Join(workDir, "base")
	if err := proc.storage.DownloadDir(ctx, proc.bucket, baseRun.ArtifactPrefix, baseDir, true); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error downloading base run artifacts: %w", err)
	}

	checkpoint, err := bnn.LoadCheckpoint(filepath.Join(baseDir, CheckpointArtifact))
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error loading checkpoint: %w", err)
	}

	model, err := checkpoint.Restore()
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error restoring model from checkpoint: %w", err)
	}

	latent, err := dataset.LoadLatentTable(filepath.Join(proc.dataDir, params.LatentPath), dataset.DefaultLatentPrefix)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	if latent.Dim() != model.InputDim() {
		err := fmt.Errorf("latent dimension mismatch: table has %d, checkpoint expects %d", latent.Dim(), model.InputDim())
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	predictor, err := bnn.NewPredictor(run.MCSamples, run.Seed)
	if err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	slog.Info("scoring latent table", "run_id", runId, "base_run_id", baseRun.Id,
		"rows", len(latent.IDs), "mc_samples", run.MCSamples)

	predictions := predictor.PredictLatent(model, latent)

	outPath := filepath.Join(workDir, PredictionsArtifact)
	if err := bnn.WritePredictions(outPath, predictions); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}
	if err := os.Rename(outPath, filepath.Join(outDir, PredictionsArtifact)); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return err
	}

	if err := proc.storage.UploadDir(ctx, proc.bucket, run.ArtifactPrefix, outDir); err != nil {
		database.SaveRunError(ctx, proc.db, runId, database.RunFailed, err.Error())
		return fmt.Errorf("error uploading run artifacts: %w", err)
	}

	proc.savePredictions(ctx, runId, predictions)

	if err := database.UpdateRunStatus(ctx, proc.db, runId, database.RunCompleted); err != nil {
		return err
	}

	slog.Info("prediction run completed", "run_id", runId, "base_run_id", baseRun.Id)
	return nil
}

func (proc *TaskProcessor) saveEpochLogs(ctx context.Context, runId uuid.UUID, epochLog []bnn.EpochRecord) {
	logs := make([]database.EpochLog, len(epochLog))
	for i, rec := range epochLog {
		logs[i] = database.EpochLog{RunId: runId, Epoch: rec.Epoch, TrainLoss: rec.TrainLoss, ValLoss: rec.ValLoss}
	}
	if err := database.SaveEpochLogs(ctx, proc.db, logs); err != nil {
		slog.Error("error saving epoch logs", "run_id", runId, "error", err)
	}
}

func (proc *TaskProcessor) savePredictions(ctx context.Context, runId uuid.UUID, records []bnn.PredictionRecord) {
	predictions := make([]database.Prediction, len(records))
	for i, rec := range records {
		predictions[i] = database.Prediction{RunId: runId, RowId: rec.RowID, Mean: rec.Mean, Uncertainty: rec.Uncertainty}
		if rec.GroundTruth != nil {
			predictions[i].GroundTruth.Float64 = *rec.GroundTruth
			predictions[i].GroundTruth.Valid = true
		}
	}
	if err := database.SavePredictions(ctx, proc.db, predictions); err != nil {
		slog.Error("error saving predictions", "run_id", runId, "error", err)
	}
}

// uploadPartialLog preserves whatever epoch log a diverged run produced.
func (proc *TaskProcessor) uploadPartialLog(ctx context.Context, run database.Run, epochLog []bnn.EpochRecord) {
	workDir, err := os.MkdirTemp("", "run-artifacts-*")
	if err != nil {
		slog.Error("error creating artifact directory for partial log", "run_id", run.Id, "error", err)
		return
	}
	defer os.RemoveAll(workDir)

	if err := bnn.WriteLog(filepath.Join(workDir, LogArtifact), epochLog); err != nil {
		slog.Error("error writing partial log", "run_id", run.Id, "error", err)
		return
	}

	if err := proc.storage.UploadDir(ctx, proc.bucket, run.ArtifactPrefix, workDir); err != nil {
		slog.Error("error uploading partial log", "run_id", run.Id, "error", err)
	}
}
