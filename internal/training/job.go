// Package training runs one seeded training trial over a sealed dataset
// artifact. Jobs are isolated units of work: a job never panics past Run and
// never touches another job's output.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"triagetrain/internal/dataset"
	"triagetrain/internal/logging"
	"triagetrain/internal/model"
)

// Status is the terminal status of a training job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrCancelled marks results of jobs stopped by cooperative cancellation.
var ErrCancelled = errors.New("training cancelled")

// TrainingError covers job-local failures: malformed datasets, divergence,
// and persistence I/O. It never escapes the job's own Result.
type TrainingError struct {
	Stage string // validate, load, train, persist
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed during %s: %v", e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error {
	return e.Err
}

// JobSpec describes one training trial.
type JobSpec struct {
	ModelVariant model.Variant `json:"model_variant" yaml:"model_variant"`
	ChunkCount   int           `json:"chunk_count" yaml:"chunk_count"`
	Seed         int64         `json:"seed" yaml:"seed"`
	Epochs       int           `json:"epochs" yaml:"epochs"`
	DatasetPath  string        `json:"dataset_path" yaml:"dataset_path"`
	Persist      bool          `json:"persist" yaml:"persist"`
	OutDir       string        `json:"out_dir" yaml:"out_dir"`
}

// Validate checks the spec fields without touching the filesystem.
func (s JobSpec) Validate() error {
	if _, err := model.ParseVariant(string(s.ModelVariant)); err != nil {
		return err
	}
	if s.ChunkCount < 1 {
		return fmt.Errorf("chunk count must be >= 1, got %d", s.ChunkCount)
	}
	if s.Epochs < 1 {
		return fmt.Errorf("epochs must be >= 1, got %d", s.Epochs)
	}
	if s.DatasetPath == "" {
		return fmt.Errorf("dataset path required")
	}
	if s.Persist && s.OutDir == "" {
		return fmt.Errorf("out dir required when persist is set")
	}
	return nil
}

// ArtifactPath derives the model artifact path from the spec fields that
// identify a trial. Distinct specs always map to distinct paths, which is
// what guarantees jobs in one campaign never cross-write.
func (s JobSpec) ArtifactPath() string {
	name := fmt.Sprintf("%s_c%d_s%d_e%d.model.json", s.ModelVariant, s.ChunkCount, s.Seed, s.Epochs)
	return filepath.Join(s.OutDir, name)
}

// EpochMetric is one observability sample from a training pass.
type EpochMetric struct {
	Epoch int     `json:"epoch"`
	Loss  float64 `json:"loss"`
}

// Result is the outcome of one training job.
type Result struct {
	Spec         JobSpec       `json:"spec"`
	Status       Status        `json:"status"`
	ArtifactPath string        `json:"artifact_path,omitempty"` // set iff persisted and succeeded
	Err          string        `json:"error,omitempty"`
	Metrics      []EpochMetric `json:"metrics"`
	Duration     time.Duration `json:"duration"`
}

// Cancelled reports whether the result failed due to cooperative cancellation.
func (r Result) Cancelled() bool {
	return r.Status == StatusFailed && strings.Contains(r.Err, ErrCancelled.Error())
}

// modelArtifact is the persisted form of a trained model.
type modelArtifact struct {
	Spec      JobSpec          `json:"spec"`
	Dataset   dataset.Manifest `json:"dataset"`
	State     model.State      `json:"state"`
	Metrics   []EpochMetric    `json:"metrics"`
	TrainedAt time.Time        `json:"trained_at"`
}

// Run executes one training trial. It never returns an error or panics:
// every failure, including cancellation, is captured in the Result so sibling
// jobs are unaffected.
func Run(ctx context.Context, spec JobSpec) (result Result) {
	start := time.Now()
	result = Result{Spec: spec, Status: StatusFailed}
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Err = (&TrainingError{Stage: "train", Err: fmt.Errorf("panic: %v", r)}).Error()
			logging.Get(logging.CategoryTraining).Error("job panicked: %v", r)
		}
	}()

	if err := spec.Validate(); err != nil {
		result.Err = (&TrainingError{Stage: "validate", Err: err}).Error()
		return result
	}

	// The dataset must check out against its sidecar manifest before any
	// training starts.
	manifest, err := dataset.Validate(spec.DatasetPath)
	if err != nil {
		result.Err = (&TrainingError{Stage: "validate", Err: err}).Error()
		return result
	}

	rows, err := dataset.ReadRows(spec.DatasetPath)
	if err != nil {
		result.Err = (&TrainingError{Stage: "load", Err: err}).Error()
		return result
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Arrivals
	}

	trainer, err := model.NewTrainer(spec.ModelVariant, values, spec.ChunkCount, spec.Seed)
	if err != nil {
		result.Err = (&TrainingError{Stage: "train", Err: err}).Error()
		return result
	}

	logging.Training("job start: %s chunks=%d seed=%d epochs=%d dataset=%s",
		spec.ModelVariant, spec.ChunkCount, spec.Seed, spec.Epochs, spec.DatasetPath)

	metrics := make([]EpochMetric, 0, spec.Epochs)
	for epoch := 1; epoch <= spec.Epochs; epoch++ {
		// Cancellation is honoured only at epoch boundaries so per-epoch
		// metrics stay reproducible.
		select {
		case <-ctx.Done():
			result.Err = fmt.Errorf("%w at epoch %d/%d", ErrCancelled, epoch, spec.Epochs).Error()
			result.Metrics = metrics
			logging.Training("job cancelled at epoch %d/%d (seed=%d)", epoch, spec.Epochs, spec.Seed)
			return result
		default:
		}

		loss, err := trainer.Epoch()
		if err != nil {
			result.Err = (&TrainingError{Stage: "train", Err: err}).Error()
			result.Metrics = metrics
			return result
		}
		metrics = append(metrics, EpochMetric{Epoch: epoch, Loss: loss})
		logging.TrainingDebug("seed=%d epoch=%d loss=%f", spec.Seed, epoch, loss)
	}
	result.Metrics = metrics

	if spec.Persist {
		path, err := persist(spec, *manifest, trainer.State(), metrics)
		if err != nil {
			result.Err = (&TrainingError{Stage: "persist", Err: err}).Error()
			return result
		}
		result.ArtifactPath = path
	}

	result.Status = StatusSucceeded
	result.Err = ""
	logging.Training("job done: seed=%d final_loss=%f persisted=%v",
		spec.Seed, metrics[len(metrics)-1].Loss, spec.Persist)
	return result
}

// persist writes the model artifact. A partial file is never left behind: the
// write goes through a temp file and only a successful rename publishes it.
func persist(spec JobSpec, m dataset.Manifest, state model.State, metrics []EpochMetric) (string, error) {
	if err := os.MkdirAll(spec.OutDir, 0755); err != nil {
		return "", fmt.Errorf("create out dir: %w", err)
	}

	art := modelArtifact{
		Spec:      spec,
		Dataset:   m,
		State:     state,
		Metrics:   metrics,
		TrainedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode model artifact: %w", err)
	}

	path := spec.ArtifactPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write model artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish model artifact: %w", err)
	}
	return path, nil
}

// LoadArtifact reads a persisted model artifact back.
func LoadArtifact(path string) (model.State, []EpochMetric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.State{}, nil, fmt.Errorf("read model artifact: %w", err)
	}
	var art modelArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return model.State{}, nil, fmt.Errorf("parse model artifact: %w", err)
	}
	return art.State, art.Metrics, nil
}
