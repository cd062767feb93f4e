package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"

	"bnn-backend/internal/bnn"
	"bnn-backend/internal/dataset"
	"bnn-backend/internal/descriptor"

	"github.com/schollz/progressbar/v3"
)

// One-shot engine invocation: identifier in, three artifacts out. No queue,
// no database; useful for scripting runs against local tables.
func main() {
	var (
		identifier  = flag.String("id", "", "8 character job identifier, e.g. dM4h6432")
		dataDir     = flag.String("data", "./data", "data root for the convention path resolver")
		latentPath  = flag.String("latent", "", "latent table path (overrides the resolver)")
		targetPath  = flag.String("target", "", "target table path (overrides the resolver)")
		layerKey    = flag.String("layer", "", "target column name (defaults to the decoded layer)")
		logPath     = flag.String("log", "log.csv", "training log output path")
		predictions = flag.String("predictions", "predictions.csv", "prediction table output path")
		checkpoint  = flag.String("checkpoint", "model.json", "model checkpoint output path")
		epochs      = flag.Int("epochs", 0, "override the decoded epoch count")
		samples     = flag.Int("samples", 0, "override the decoded Monte Carlo sample count")
		split       = flag.Float64("split", 0.9, "train fraction of the joined dataset, in (0,1)")
		hiddenDim   = flag.Int("hidden", 128, "hidden layer width")
		seed        = flag.Int64("seed", 42, "seed for init, split and sampling")
	)
	flag.Parse()

	if *identifier == "" {
		log.Fatal("missing required -id flag")
	}
	if *split <= 0 || *split >= 1 {
		log.Fatalf("invalid -split %v: must be in (0,1)", *split)
	}

	desc, err := descriptor.Decode(*identifier)
	if err != nil {
		log.Fatalf("invalid identifier %q: %v", *identifier, err)
	}
	if *epochs > 0 {
		desc.Epochs = *epochs
	}
	if *samples > 0 {
		desc.MCSamples = *samples
	}
	if *layerKey == "" {
		*layerKey = string(desc.Layer)
	}

	if *latentPath == "" || *targetPath == "" {
		resolved, resolvedTarget, err := dataset.NewConventionResolver(*dataDir).Resolve(desc)
		if err != nil {
			log.Fatalf("failed to resolve dataset paths: %v", err)
		}
		if *latentPath == "" {
			*latentPath = resolved
		}
		if *targetPath == "" {
			*targetPath = resolvedTarget
		}
	}

	latent, err := dataset.LoadLatentTable(*latentPath, dataset.DefaultLatentPrefix)
	if err != nil {
		log.Fatalf("failed to load latent table: %v", err)
	}
	target, err := dataset.LoadTargetTable(*targetPath, *layerKey)
	if err != nil {
		log.Fatalf("failed to load target table: %v", err)
	}
	ds, err := dataset.Join(latent, target)
	if err != nil {
		log.Fatalf("failed to join tables: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))

	train, val, err := dataset.Split(ds, *split, rng)
	if err != nil {
		log.Fatalf("failed to split dataset: %v", err)
	}

	model, err := bnn.NewRegressor(ds.Dim(), *hiddenDim, rng)
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}

	opts := bnn.TrainOptions{Epochs: desc.Epochs}

	bar := progressbar.NewOptions(desc.Epochs,
		progressbar.OptionSetDescription(fmt.Sprintf("training %s", *identifier)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	trainer := bnn.NewTrainer(opts, rng)
	trainer.OnEpoch = func(rec bnn.EpochRecord) {
		bar.Add(1) //nolint:errcheck
	}

	slog.Info("starting training", "identifier", *identifier,
		"rows", ds.Len(), "train_rows", train.Len(), "val_rows", val.Len(), "epochs", desc.Epochs)

	epochLog, err := trainer.Train(model, train, val)
	if err != nil {
		// The partial log is still worth keeping for diagnosis.
		if writeErr := bnn.WriteLog(*logPath, epochLog); writeErr != nil {
			slog.Error("failed to write partial training log", "error", writeErr)
		}
		log.Fatalf("training failed: %v", err)
	}

	predictor, err := bnn.NewPredictor(desc.MCSamples, *seed)
	if err != nil {
		log.Fatalf("failed to build predictor: %v", err)
	}
	records := predictor.PredictDataset(model, ds)

	paths := bnn.ArtifactPaths{
		Log:         *logPath,
		Predictions: *predictions,
		Checkpoint:  *checkpoint,
	}
	if err := bnn.WriteArtifacts(paths, model.Checkpoint(opts), epochLog, records); err != nil {
		log.Fatalf("failed to write artifacts: %v", err)
	}

	slog.Info("run complete", "log", *logPath, "predictions", *predictions, "checkpoint", *checkpoint)
}
