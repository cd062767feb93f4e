package bnn

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrArtifactWrite marks a failure to persist one artifact. Writes are
// independent: a failed artifact never rolls back the ones already flushed.
var ErrArtifactWrite = errors.New("artifact write failed")

// ArtifactPaths names the three run outputs.
type ArtifactPaths struct {
	Log         string
	Predictions string
	Checkpoint  string
}

// writeAtomic writes data through a temp file in the destination directory
// and renames it into place, so a kill mid-write never leaves a truncated
// artifact behind.
func writeAtomic(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}

	return os.Rename(tmp.Name(), path)
}

// WriteLog persists the per-epoch training log as CSV.
func WriteLog(path string, log []EpochRecord) error {
	return writeAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write([]string{"epoch", "train_loss", "val_loss"}); err != nil {
			return err
		}
		for _, rec := range log {
			row := []string{
				strconv.Itoa(rec.Epoch),
				strconv.FormatFloat(rec.TrainLoss, 'g', -1, 64),
				strconv.FormatFloat(rec.ValLoss, 'g', -1, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// WritePredictions persists the prediction table as CSV. The ground-truth
// column is left empty for rows without a target value.
func WritePredictions(path string, records []PredictionRecord) error {
	return writeAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write([]string{"row_id", "mean_prediction", "uncertainty", "ground_truth"}); err != nil {
			return err
		}
		for _, rec := range records {
			truth := ""
			if rec.GroundTruth != nil {
				truth = strconv.FormatFloat(*rec.GroundTruth, 'g', -1, 64)
			}
			row := []string{
				rec.RowID,
				strconv.FormatFloat(rec.Mean, 'g', -1, 64),
				strconv.FormatFloat(rec.Uncertainty, 'g', -1, 64),
				truth,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

// WriteCheckpoint persists the serialized model.
func WriteCheckpoint(path string, checkpoint *Checkpoint) error {
	return writeAtomic(path, func(f *os.File) error {
		return json.NewEncoder(f).Encode(checkpoint)
	})
}

// WriteArtifacts writes the three artifacts independently. Failures are
// collected per artifact and joined; any artifact already written stays
// valid.
func WriteArtifacts(paths ArtifactPaths, checkpoint *Checkpoint, log []EpochRecord, predictions []PredictionRecord) error {
	var errs []error

	if err := WriteLog(paths.Log, log); err != nil {
		errs = append(errs, fmt.Errorf("%w: training log %s: %v", ErrArtifactWrite, paths.Log, err))
	}
	if err := WritePredictions(paths.Predictions, predictions); err != nil {
		errs = append(errs, fmt.Errorf("%w: predictions %s: %v", ErrArtifactWrite, paths.Predictions, err))
	}
	if err := WriteCheckpoint(paths.Checkpoint, checkpoint); err != nil {
		errs = append(errs, fmt.Errorf("%w: checkpoint %s: %v", ErrArtifactWrite, paths.Checkpoint, err))
	}

	return errors.Join(errs...)
}

// ReadLog loads a training-log CSV previously written by WriteLog.
func ReadLog(path string) ([]EpochRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	var log []EpochRecord
	for _, row := range rows[1:] {
		epoch, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("bad epoch %q in %s: %w", row[0], path, err)
		}
		trainLoss, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad train_loss %q in %s: %w", row[1], path, err)
		}
		valLoss, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("bad val_loss %q in %s: %w", row[2], path, err)
		}
		log = append(log, EpochRecord{Epoch: epoch, TrainLoss: trainLoss, ValLoss: valLoss})
	}
	return log, nil
}
