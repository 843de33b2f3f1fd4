package campaign

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"triagetrain/internal/dataset"
	"triagetrain/internal/model"
	"triagetrain/internal/training"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Full pipeline: one generated dataset, four seeded trials, four distinct
// persisted artifacts.
func TestExecuteScenarioFourSeeds(t *testing.T) {
	outDir := t.TempDir()
	spec := dataset.Spec{
		Strategy:   dataset.StrategyRandomCyclic,
		StartDate:  "2015-01-01",
		EndDate:    "2020-12-31",
		OutputPath: filepath.Join(t.TempDir(), "arrivals.csv"),
	}

	jobs := make([]training.JobSpec, 0, 4)
	for seed := int64(1); seed <= 4; seed++ {
		jobs = append(jobs, training.JobSpec{
			ModelVariant: model.RadiusVariance,
			ChunkCount:   1,
			Seed:         seed,
			Epochs:       50,
			Persist:      true,
			OutDir:       outDir,
		})
	}

	c, err := New(spec, jobs)
	require.NoError(t, err)

	o := NewOrchestrator(Config{Workers: 4})
	o.Execute(context.Background(), c)

	require.Equal(t, StatusCompleted, c.Status)
	require.Len(t, c.Results, 4)
	require.NotNil(t, c.Artifact)
	assert.Equal(t, 2192, c.Artifact.Manifest.RowCount)

	paths := make(map[string]bool)
	for i, res := range c.Results {
		require.Equal(t, training.StatusSucceeded, res.Status, "job %d err: %s", i, res.Err)
		require.NotEmpty(t, res.ArtifactPath, "job %d", i)
		require.False(t, paths[res.ArtifactPath], "artifact path reused: %s", res.ArtifactPath)
		paths[res.ArtifactPath] = true

		if _, err := os.Stat(res.ArtifactPath); err != nil {
			t.Errorf("job %d artifact missing: %v", i, err)
		}
	}

	s := c.Summary()
	assert.Equal(t, 4, s.Succeeded)
	assert.Equal(t, 0, s.Failed)
}

func TestExecuteAbortsOnGenerationFailure(t *testing.T) {
	spec := testDatasetSpec(t)
	spec.OutputPath = filepath.Join(t.TempDir(), "data.csv")
	jobs := testJobs(3, t.TempDir())

	c, err := New(spec, jobs)
	require.NoError(t, err)

	// Poison the output path after validation: a plain file where the
	// artifact's parent directory should be.
	blocker := filepath.Join(filepath.Dir(spec.OutputPath), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	c.DatasetSpec.OutputPath = filepath.Join(blocker, "data.csv")
	for i := range c.JobSpecs {
		c.JobSpecs[i].DatasetPath = c.DatasetSpec.OutputPath
	}

	o := NewOrchestrator(Config{Workers: 2})
	o.Execute(context.Background(), c)

	assert.Equal(t, StatusAborted, c.Status)
	assert.NotEmpty(t, c.AbortReason)
	assert.Empty(t, c.Results, "no job may run after generation failure")
}

func TestExecuteIsolatesJobFailure(t *testing.T) {
	spec := testDatasetSpec(t) // 90 rows
	jobs := testJobs(3, t.TempDir())
	jobs[1].ChunkCount = 100000 // exceeds row count, fails in the trainer

	c, err := New(spec, jobs)
	require.NoError(t, err)

	o := NewOrchestrator(Config{Workers: 3})
	o.Execute(context.Background(), c)

	require.Equal(t, StatusCompleted, c.Status, "job failure must not abort the campaign")
	require.Len(t, c.Results, 3)

	assert.Equal(t, training.StatusSucceeded, c.Results[0].Status, "err: %s", c.Results[0].Err)
	assert.Equal(t, training.StatusFailed, c.Results[1].Status)
	assert.NotEmpty(t, c.Results[1].Err)
	assert.Equal(t, training.StatusSucceeded, c.Results[2].Status, "err: %s", c.Results[2].Err)

	s := c.Summary()
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
}

func TestExecuteEmitsEvents(t *testing.T) {
	spec := testDatasetSpec(t)
	c, err := New(spec, testJobs(2, t.TempDir()))
	require.NoError(t, err)

	events := make(chan Event, 64)
	o := NewOrchestrator(Config{Workers: 2, Events: events})
	o.Execute(context.Background(), c)
	close(events)

	seen := make(map[string]int)
	for ev := range events {
		seen[ev.Type]++
	}
	assert.Equal(t, 1, seen["campaign_started"])
	assert.Equal(t, 1, seen["dataset_generated"])
	assert.Equal(t, 2, seen["job_started"])
	assert.Equal(t, 2, seen["job_finished"])
	assert.Equal(t, 1, seen["campaign_completed"])
}

func TestExecuteCooperativeCancellation(t *testing.T) {
	spec := testDatasetSpec(t) // 90 rows
	jobs := testJobs(3, t.TempDir())
	for i := range jobs {
		// Long enough that cancellation lands while job 1 is mid-epochs.
		jobs[i].Epochs = 200000
	}

	c, err := New(spec, jobs)
	require.NoError(t, err)

	events := make(chan Event, 256)
	o := NewOrchestrator(Config{Workers: 1, Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Execute(ctx, c)
	}()

	// Cancel as soon as the first job completes; with one worker the
	// remaining jobs are either unstarted or just starting.
	for ev := range events {
		if ev.Type == "job_finished" && ev.JobIndex == 0 {
			cancel()
			break
		}
	}
	<-done

	require.Equal(t, StatusCompleted, c.Status)
	require.Len(t, c.Results, 3, "every job must still have a result")

	assert.Equal(t, training.StatusSucceeded, c.Results[0].Status,
		"finished job keeps its result, err: %s", c.Results[0].Err)
	assert.True(t, c.Results[1].Cancelled(), "err: %s", c.Results[1].Err)
	assert.True(t, c.Results[2].Cancelled(), "err: %s", c.Results[2].Err)

	// Cancelled jobs must not publish artifacts.
	for i := 1; i < 3; i++ {
		_, err := os.Stat(c.JobSpecs[i].ArtifactPath())
		assert.True(t, os.IsNotExist(err), "job %d left an artifact behind", i)
	}
}

func TestExecuteDefaultsWorkerPool(t *testing.T) {
	o := NewOrchestrator(Config{})
	assert.Equal(t, 1, o.workers)
	assert.NotNil(t, o.generator)
}
