package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func terminal(status string) bool {
	return status == RunCompleted || status == RunFailed || status == RunDiverged
}

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if terminal(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

// SaveRunError records the failure reason alongside the terminal status. A
// diverged run keeps whatever epoch logs were written before the halt.
func SaveRunError(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status, errorMessage string) {
	updates := map[string]any{"status": status, "error": errorMessage}
	if terminal(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error saving run error", "run_id", runId, "error", err)
	}
}

func SaveEpochLogs(ctx context.Context, txn *gorm.DB, logs []EpochLog) error {
	if len(logs) == 0 {
		return nil
	}
	return txn.WithContext(ctx).CreateInBatches(logs, 100).Error
}

func SavePredictions(ctx context.Context, txn *gorm.DB, predictions []Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	return txn.WithContext(ctx).CreateInBatches(predictions, 100).Error
}

func GetRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (Run, error) {
	var run Run
	err := db.WithContext(ctx).First(&run, "id = ?", runId).Error
	return run, err
}
