package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triagetrain/internal/dataset"
	"triagetrain/internal/model"
)

func generateDataset(t *testing.T) string {
	t.Helper()
	spec := dataset.Spec{
		Strategy:   dataset.StrategyRandomCyclic,
		StartDate:  "2018-01-01",
		EndDate:    "2018-06-30",
		OutputPath: filepath.Join(t.TempDir(), "arrivals.csv"),
	}
	art, err := dataset.NewGenerator().Generate(context.Background(), spec)
	require.NoError(t, err)
	return art.Path
}

func baseSpec(t *testing.T, datasetPath string) JobSpec {
	t.Helper()
	return JobSpec{
		ModelVariant: model.RadiusVariance,
		ChunkCount:   2,
		Seed:         42,
		Epochs:       10,
		DatasetPath:  datasetPath,
	}
}

func TestRunSucceeds(t *testing.T) {
	spec := baseSpec(t, generateDataset(t))

	res := Run(context.Background(), spec)

	require.Equal(t, StatusSucceeded, res.Status, "err: %s", res.Err)
	assert.Empty(t, res.Err)
	assert.Len(t, res.Metrics, spec.Epochs)
	assert.Empty(t, res.ArtifactPath, "no artifact without persist")
	for i, m := range res.Metrics {
		assert.Equal(t, i+1, m.Epoch)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	spec := baseSpec(t, generateDataset(t))

	resA := Run(context.Background(), spec)
	resB := Run(context.Background(), spec)

	require.Equal(t, StatusSucceeded, resA.Status)
	require.Equal(t, StatusSucceeded, resB.Status)
	if diff := cmp.Diff(resA.Metrics, resB.Metrics); diff != "" {
		t.Errorf("identical specs produced different metrics:\n%s", diff)
	}
}

func TestRunPersistsArtifact(t *testing.T) {
	spec := baseSpec(t, generateDataset(t))
	spec.Persist = true
	spec.OutDir = t.TempDir()

	res := Run(context.Background(), spec)

	require.Equal(t, StatusSucceeded, res.Status, "err: %s", res.Err)
	require.Equal(t, spec.ArtifactPath(), res.ArtifactPath)

	state, metrics, err := LoadArtifact(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, model.RadiusVariance, state.Variant)
	assert.Equal(t, spec.ChunkCount, len(state.Centers))
	if diff := cmp.Diff(res.Metrics, metrics); diff != "" {
		t.Errorf("persisted metrics differ from result:\n%s", diff)
	}
}

func TestArtifactPathsUniquePerSpec(t *testing.T) {
	base := JobSpec{
		ModelVariant: model.RadiusVariance,
		ChunkCount:   1,
		Epochs:       50,
		OutDir:       "models",
	}

	seen := make(map[string]JobSpec)
	for seed := int64(1); seed <= 4; seed++ {
		s := base
		s.Seed = seed
		p := s.ArtifactPath()
		if prev, dup := seen[p]; dup {
			t.Fatalf("path collision between %+v and %+v: %s", prev, s, p)
		}
		seen[p] = s
	}

	// Varying any identifying field moves the path too.
	other := base
	other.Seed = 1
	other.ChunkCount = 2
	if _, dup := seen[other.ArtifactPath()]; dup {
		t.Error("chunk count change did not change artifact path")
	}
}

func TestRunFailsOnTamperedDataset(t *testing.T) {
	path := generateDataset(t)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	f.WriteString("2018-07-01,999\n")
	f.Close()

	res := Run(context.Background(), baseSpec(t, path))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Err, "validate")
	assert.False(t, res.Cancelled())
}

func TestRunFailsOnMissingDataset(t *testing.T) {
	spec := baseSpec(t, filepath.Join(t.TempDir(), "nope.csv"))

	res := Run(context.Background(), spec)

	assert.Equal(t, StatusFailed, res.Status)
	assert.NotEmpty(t, res.Err)
}

func TestRunRejectsBadSpec(t *testing.T) {
	path := generateDataset(t)

	cases := []struct {
		name   string
		mutate func(*JobSpec)
	}{
		{"zero epochs", func(s *JobSpec) { s.Epochs = 0 }},
		{"zero chunks", func(s *JobSpec) { s.ChunkCount = 0 }},
		{"bad variant", func(s *JobSpec) { s.ModelVariant = "perceptron" }},
		{"persist without out dir", func(s *JobSpec) { s.Persist = true; s.OutDir = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := baseSpec(t, path)
			tc.mutate(&spec)
			res := Run(context.Background(), spec)
			assert.Equal(t, StatusFailed, res.Status)
			assert.NotEmpty(t, res.Err)
		})
	}
}

func TestRunCancellation(t *testing.T) {
	spec := baseSpec(t, generateDataset(t))
	spec.Persist = true
	spec.OutDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the first epoch boundary

	res := Run(ctx, spec)

	require.Equal(t, StatusFailed, res.Status)
	assert.True(t, res.Cancelled(), "err was: %s", res.Err)
	assert.Empty(t, res.ArtifactPath)

	// No partial artifact may survive a cancelled job.
	_, err := os.Stat(spec.ArtifactPath())
	assert.True(t, os.IsNotExist(err))
}
