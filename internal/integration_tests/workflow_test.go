package integrationtests

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	backend "bnn-backend/internal/api"
	"bnn-backend/internal/core"
	"bnn-backend/internal/database"
	"bnn-backend/internal/storage"
	"bnn-backend/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const artifactBucket = "run-artifacts"

// writeDataset lays out a convention data directory with a 3-wide latent
// table and a matching measurability target table.
func writeDataset(t *testing.T, dataDir string, rows int) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "latent"), os.ModePerm))
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "targets"), os.ModePerm))

	rng := rand.New(rand.NewSource(13))

	latent := "tile_id,latent_0,latent_1,latent_2\n"
	target := "tile_id,measurability\n"
	for i := 0; i < rows; i++ {
		x0, x1, x2 := rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
		latent += fmt.Sprintf("tile_%03d,%f,%f,%f\n", i, x0, x1, x2)
		target += fmt.Sprintf("tile_%03d,%f\n", i, 0.5*x0-0.2*x1+0.1*x2)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "latent", "high_h03.csv"), []byte(latent), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "targets", "measurability_high.csv"), []byte(target), 0644))
}

func waitForRun(t *testing.T, router chi.Router, runId string, attempts int, delay time.Duration) models.Run {
	t.Helper()

	var run models.Run
	for i := 0; i < attempts; i++ {
		time.Sleep(delay)
		require.NoError(t, httpRequest(router, "GET", "/runs/"+runId, nil, &run))
		if run.Status != database.RunQueued && run.Status != database.RunRunning {
			break
		}
	}
	return run
}

func TestTrainAndPredictWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	minioURL := setupMinioContainer(t, ctx)
	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        minioURL,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(ctx, artifactBucket))

	db := createDB(t)
	publisher, reciever := setupRabbitMQContainer(t, ctx)

	dataDir := t.TempDir()
	writeDataset(t, dataDir, 40)

	service := backend.NewBackendService(db, publisher, store, artifactBucket)
	router := chi.NewRouter()
	service.AddRoutes(router)

	worker := core.NewTaskProcessor(db, store, reciever, dataDir, artifactBucket)
	go worker.Start()
	defer worker.Stop()

	var submitResp models.TrainSubmitResponse
	require.NoError(t, httpRequest(router, "POST", "/runs", models.TrainRequest{Identifier: "dM4h0311", Seed: 7}, &submitResp))

	run := waitForRun(t, router, submitResp.RunId.String(), 60, time.Second)
	require.Equal(t, database.RunCompleted, run.Status, "run error: %s", run.Error)

	var logs []models.EpochLogEntry
	require.NoError(t, httpRequest(router, "GET", "/runs/"+submitResp.RunId.String()+"/log", nil, &logs))
	require.Len(t, logs, 100)
	assert.Less(t, logs[99].TrainLoss, logs[0].TrainLoss)

	var predictions []models.PredictionEntry
	require.NoError(t, httpRequest(router, "GET", "/runs/"+submitResp.RunId.String()+"/predictions", nil, &predictions))
	assert.Len(t, predictions, 40)

	// Score a fresh latent table against the trained run.
	survey := "tile_id,latent_0,latent_1,latent_2\nnew_001,0.1,0.2,0.3\nnew_002,-0.5,0.4,0.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "latent", "survey.csv"), []byte(survey), 0644))

	var predictResp models.PredictSubmitResponse
	require.NoError(t, httpRequest(router, "POST", "/runs/"+submitResp.RunId.String()+"/predictions",
		models.PredictRequest{LatentPath: "latent/survey.csv"}, &predictResp))

	predictRun := waitForRun(t, router, predictResp.RunId.String(), 60, time.Second)
	require.Equal(t, database.RunCompleted, predictRun.Status, "run error: %s", predictRun.Error)

	var surveyPredictions []models.PredictionEntry
	require.NoError(t, httpRequest(router, "GET", "/runs/"+predictResp.RunId.String()+"/predictions", nil, &surveyPredictions))
	require.Len(t, surveyPredictions, 2)
	for _, p := range surveyPredictions {
		assert.Nil(t, p.GroundTruth, "survey rows have no ground truth")
		assert.Greater(t, p.Uncertainty, 0.0)
	}
}
