package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"triagetrain/internal/model"
	"triagetrain/internal/store"
	"triagetrain/internal/training"
)

var (
	trainModel   string
	trainChunks  int
	trainSeed    int64
	trainEpochs  int
	trainDataset string
	trainPersist bool
	trainOutDir  string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run a single training job against a dataset artifact",
	Long: `Trains one model over an existing dataset artifact. The artifact is
validated against its manifest before training starts.

Example:
  triagetrain train --dataset data/referrals.csv --chunks 4 --seed 7 --epochs 100 --persist`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainModel, "model", "", "Model variant (default from config)")
	trainCmd.Flags().IntVar(&trainChunks, "chunks", 0, "Chunk count (default from config)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 1, "Training seed")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Epoch budget (default from config)")
	trainCmd.Flags().StringVar(&trainDataset, "dataset", "", "Dataset artifact path (default from config)")
	trainCmd.Flags().BoolVar(&trainPersist, "persist", false, "Persist the trained model artifact")
	trainCmd.Flags().StringVar(&trainOutDir, "out-dir", "", "Model artifact directory (default from config)")
}

func jobSpecFromFlags(seed int64) (training.JobSpec, error) {
	variant, err := model.ParseVariant(firstNonEmpty(trainModel, cfg.Training.ModelVariant))
	if err != nil {
		return training.JobSpec{}, err
	}
	spec := training.JobSpec{
		ModelVariant: variant,
		ChunkCount:   cfg.Training.ChunkCount,
		Seed:         seed,
		Epochs:       cfg.Training.Epochs,
		DatasetPath:  firstNonEmpty(trainDataset, cfg.Dataset.OutputPath),
		Persist:      trainPersist || cfg.Training.Persist,
		OutDir:       firstNonEmpty(trainOutDir, cfg.Training.OutDir),
	}
	if trainChunks > 0 {
		spec.ChunkCount = trainChunks
	}
	if trainEpochs > 0 {
		spec.Epochs = trainEpochs
	}
	return spec, spec.Validate()
}

func runTrain(cmd *cobra.Command, args []string) error {
	spec, err := jobSpecFromFlags(trainSeed)
	if err != nil {
		return err
	}

	logger.Info("training",
		zap.String("model", string(spec.ModelVariant)),
		zap.Int("chunks", spec.ChunkCount),
		zap.Int64("seed", spec.Seed),
		zap.Int("epochs", spec.Epochs),
		zap.String("dataset", spec.DatasetPath))

	result := training.Run(cmd.Context(), spec)

	if s, err := store.Open(cfg.Store.Path); err == nil {
		if err := s.RecordRun("adhoc", result); err != nil {
			logger.Warn("failed to record run", zap.Error(err))
		}
		s.Close()
	} else {
		logger.Warn("run registry unavailable", zap.Error(err))
	}

	if result.Status != training.StatusSucceeded {
		return errors.New(result.Err)
	}

	final := result.Metrics[len(result.Metrics)-1]
	fmt.Printf("trained in %s, final loss %.6f after %d epochs\n",
		result.Duration.Round(time.Millisecond), final.Loss, final.Epoch)
	if result.ArtifactPath != "" {
		fmt.Printf("model saved to %s\n", result.ArtifactPath)
	}
	return nil
}
