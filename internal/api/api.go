package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"bnn-backend/internal/database"
	"bnn-backend/internal/descriptor"
	"bnn-backend/internal/messaging"
	"bnn-backend/internal/storage"
	"bnn-backend/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultSplitRatio = 0.8

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	store     storage.ObjectStore
	bucket    string
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, store storage.ObjectStore, bucket string) *BackendService {
	return &BackendService{db: db, publisher: publisher, store: store, bucket: bucket}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitTrainRun))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Delete("/{run_id}", RestHandler(s.DeleteRun))
		r.Get("/{run_id}/log", RestHandler(s.GetRunLog))
		r.Get("/{run_id}/predictions", RestHandler(s.GetRunPredictions))
		r.Post("/{run_id}/predictions", RestHandler(s.SubmitPredictRun))
	})
}

// deriveSeed gives a run submitted without an explicit seed a stable one, so
// retrying the run reproduces it.
func deriveSeed(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]) >> 1)
}

func (s *BackendService) SubmitTrainRun(r *http.Request) (any, error) {
	req, err := ParseRequest[models.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	desc, err := descriptor.Decode(req.Identifier)
	if err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid run identifier %q: %v", req.Identifier, err)
	}

	if req.SplitRatio < 0 || req.SplitRatio >= 1 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "split ratio must be in (0, 1)")
	}
	splitRatio := req.SplitRatio
	if splitRatio == 0 {
		splitRatio = DefaultSplitRatio
	}

	ctx := r.Context()

	runId := uuid.New()
	seed := req.Seed
	if seed == 0 {
		seed = deriveSeed(runId)
	}

	params, err := json.Marshal(models.DefaultRunParams())
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize run params")
	}

	run := &database.Run{
		Id:             runId,
		Identifier:     desc.Encode(),
		CalcType:       string(desc.CalcType),
		Layer:          string(desc.Layer),
		Resolution:     string(desc.Resolution),
		LatentDim:      desc.LatentDim,
		Epochs:         desc.Epochs,
		MCSamples:      desc.MCSamples,
		Seed:           seed,
		SplitRatio:     splitRatio,
		Params:         params,
		Status:         database.RunQueued,
		ArtifactPrefix: runId.String(),
		CreationTime:   time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run entry")
	}

	if err := s.publisher.PublishTrainTask(ctx, models.TrainTaskPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing train task", "run_id", run.Id, "error", err)
		database.SaveRunError(ctx, s.db, run.Id, database.RunFailed, "failed to queue training task")
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training run", "run_id", run.Id, "identifier", run.Identifier)
	return models.TrainSubmitResponse{Message: "Training run submitted", RunId: run.Id}, nil
}

func (s *BackendService) SubmitPredictRun(r *http.Request) (any, error) {
	baseRunId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[models.PredictRequest](r)
	if err != nil {
		return nil, err
	}
	if req.LatentPath == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required field: LatentPath")
	}

	ctx := r.Context()

	baseRun, err := s.loadRun(ctx, baseRunId)
	if err != nil {
		return nil, err
	}

	if baseRun.Status != database.RunCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "base run is not ready: run has status %s", baseRun.Status)
	}

	runParams := models.DefaultRunParams()
	runParams.LatentPath = req.LatentPath
	params, err := json.Marshal(runParams)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to serialize run params")
	}

	runId := uuid.New()
	run := &database.Run{
		Id:             runId,
		BaseRunId:      uuid.NullUUID{UUID: baseRun.Id, Valid: true},
		Identifier:     baseRun.Identifier,
		CalcType:       baseRun.CalcType,
		Layer:          baseRun.Layer,
		Resolution:     baseRun.Resolution,
		LatentDim:      baseRun.LatentDim,
		Epochs:         baseRun.Epochs,
		MCSamples:      baseRun.MCSamples,
		Seed:           deriveSeed(runId),
		Params:         params,
		Status:         database.RunQueued,
		ArtifactPrefix: runId.String(),
		CreationTime:   time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating prediction run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run entry")
	}

	if err := s.publisher.PublishPredictTask(ctx, models.PredictTaskPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing predict task", "run_id", run.Id, "error", err)
		database.SaveRunError(ctx, s.db, run.Id, database.RunFailed, "failed to queue prediction task")
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue prediction task")
	}

	slog.Info("submitted prediction run", "run_id", run.Id, "base_run_id", baseRun.Id)
	return models.PredictSubmitResponse{Message: "Prediction run submitted", RunId: run.Id}, nil
}

func (s *BackendService) loadRun(ctx context.Context, runId uuid.UUID) (database.Run, error) {
	var run database.Run
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return run, CodedErrorf(http.StatusNotFound, "run not found")
		}
		slog.Error("error getting run", "error", err)
		return run, CodedErrorf(http.StatusInternalServerError, "error retrieving run record")
	}
	return run, nil
}

func runToResponse(run database.Run) models.Run {
	res := models.Run{
		Id:           run.Id,
		Identifier:   run.Identifier,
		CalcType:     run.CalcType,
		Layer:        run.Layer,
		Resolution:   run.Resolution,
		LatentDim:    run.LatentDim,
		Epochs:       run.Epochs,
		MCSamples:    run.MCSamples,
		Status:       run.Status,
		Error:        run.Error,
		CreationTime: run.CreationTime,
	}
	if run.BaseRunId.Valid {
		res.BaseRunId = &run.BaseRunId.UUID
	}
	if run.CompletionTime.Valid {
		t := run.CompletionTime.Time
		res.CompletionTime = &t
	}
	return res
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.loadRun(r.Context(), runId)
	if err != nil {
		return nil, err
	}

	return runToResponse(run), nil
}

func (s *BackendService) GetRunLog(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if _, err := s.loadRun(ctx, runId); err != nil {
		return nil, err
	}

	var logs []database.EpochLog
	if err := s.db.WithContext(ctx).Where("run_id = ?", runId).Order("epoch").Find(&logs).Error; err != nil {
		slog.Error("error getting epoch logs", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving epoch logs")
	}

	entries := make([]models.EpochLogEntry, len(logs))
	for i, l := range logs {
		entries[i] = models.EpochLogEntry{Epoch: l.Epoch, TrainLoss: l.TrainLoss, ValLoss: l.ValLoss}
	}
	return entries, nil
}

type predictionsQuery struct {
	Offset int
	Limit  int
}

func (s *BackendService) GetRunPredictions(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	query, err := ParseRequestQueryParams[predictionsQuery](r)
	if err != nil {
		return nil, err
	}
	if query.Limit <= 0 || query.Limit > 1000 {
		query.Limit = 1000
	}

	ctx := r.Context()
	if _, err := s.loadRun(ctx, runId); err != nil {
		return nil, err
	}

	var preds []database.Prediction
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runId).
		Order("row_id").
		Offset(query.Offset).
		Limit(query.Limit).
		Find(&preds).Error; err != nil {
		slog.Error("error getting predictions", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving predictions")
	}

	entries := make([]models.PredictionEntry, len(preds))
	for i, p := range preds {
		entries[i] = models.PredictionEntry{RowId: p.RowId, Mean: p.Mean, Uncertainty: p.Uncertainty}
		if p.GroundTruth.Valid {
			truth := p.GroundTruth.Float64
			entries[i].GroundTruth = &truth
		}
	}
	return entries, nil
}

func (s *BackendService) DeleteRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	run, err := s.loadRun(ctx, runId)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteObjects(ctx, s.bucket, run.ArtifactPrefix); err != nil {
		slog.Error("error deleting run artifacts", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete run artifacts")
	}

	if err := s.db.WithContext(ctx).Select("EpochLogs", "Predictions").Delete(&database.Run{Id: runId}).Error; err != nil {
		slog.Error("error deleting run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete run record")
	}

	slog.Info("deleted run", "run_id", runId)
	return nil, nil
}
