package campaign

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triagetrain/internal/dataset"
	"triagetrain/internal/model"
	"triagetrain/internal/training"
)

func testDatasetSpec(t *testing.T) dataset.Spec {
	t.Helper()
	return dataset.Spec{
		Strategy:   dataset.StrategyRandomCyclic,
		StartDate:  "2019-01-01",
		EndDate:    "2019-03-31",
		OutputPath: filepath.Join(t.TempDir(), "arrivals.csv"),
	}
}

func testJobs(n int, outDir string) []training.JobSpec {
	jobs := make([]training.JobSpec, 0, n)
	for seed := int64(1); seed <= int64(n); seed++ {
		jobs = append(jobs, training.JobSpec{
			ModelVariant: model.RadiusVariance,
			ChunkCount:   1,
			Seed:         seed,
			Epochs:       10,
			Persist:      true,
			OutDir:       outDir,
		})
	}
	return jobs
}

func TestNewPinsDatasetPath(t *testing.T) {
	spec := testDatasetSpec(t)
	c, err := New(spec, testJobs(3, t.TempDir()))
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, StatusPending, c.Status)
	for i, j := range c.JobSpecs {
		assert.Equal(t, spec.OutputPath, j.DatasetPath, "job %d", i)
	}
}

func TestNewRejectsForeignDatasetRef(t *testing.T) {
	spec := testDatasetSpec(t)
	jobs := testJobs(1, t.TempDir())
	jobs[0].DatasetPath = "/somewhere/else.csv"

	_, err := New(spec, jobs)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
}

func TestNewRejectsArtifactPathCollision(t *testing.T) {
	spec := testDatasetSpec(t)
	jobs := testJobs(2, t.TempDir())
	jobs[1].Seed = jobs[0].Seed // identical spec, identical artifact path

	_, err := New(spec, jobs)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Contains(t, vErr.Reason, "same artifact path")
}

func TestNewAllowsNonPersistingDuplicates(t *testing.T) {
	// Without persistence there is no output path to collide on.
	spec := testDatasetSpec(t)
	jobs := testJobs(2, t.TempDir())
	jobs[1].Seed = jobs[0].Seed
	for i := range jobs {
		jobs[i].Persist = false
		jobs[i].OutDir = ""
	}

	_, err := New(spec, jobs)
	assert.NoError(t, err)
}

func TestNewRejectsInvalidPieces(t *testing.T) {
	t.Run("bad dataset spec", func(t *testing.T) {
		spec := testDatasetSpec(t)
		spec.StartDate = "2020-01-01"
		spec.EndDate = "2019-01-01"
		_, err := New(spec, testJobs(1, t.TempDir()))
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
	})

	t.Run("no jobs", func(t *testing.T) {
		_, err := New(testDatasetSpec(t), nil)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
	})

	t.Run("bad job", func(t *testing.T) {
		jobs := testJobs(1, t.TempDir())
		jobs[0].Epochs = 0
		_, err := New(testDatasetSpec(t), jobs)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
	})
}

func TestSummaryCounts(t *testing.T) {
	c := &Campaign{
		ID:     "c1",
		Status: StatusCompleted,
		JobSpecs: []training.JobSpec{
			{Seed: 1}, {Seed: 2}, {Seed: 3},
		},
		Results: []training.Result{
			{Status: training.StatusSucceeded},
			{Status: training.StatusFailed, Err: "boom"},
			{Status: training.StatusSucceeded},
		},
	}

	s := c.Summary()
	assert.Equal(t, 3, s.Jobs)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Contains(t, s.String(), "2/3 jobs succeeded")
}
