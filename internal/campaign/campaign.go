// Package campaign implements the training campaign orchestrator: one
// dataset generation followed by a set of independently seeded training
// jobs over that dataset.
//
// A campaign moves through a fixed state machine:
//
//	Pending -> GeneratingDataset -> RunningJobs -> Completed
//	                     \-> Aborted (generator failure only)
//
// Dataset generation is a hard barrier: no job starts before the artifact is
// sealed and validated. Job failures are isolated; they are recorded in the
// job's result and never abort the campaign or disturb sibling jobs.
package campaign

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"triagetrain/internal/dataset"
	"triagetrain/internal/training"
)

// Status is the campaign lifecycle state.
type Status string

const (
	StatusPending           Status = "pending"
	StatusGeneratingDataset Status = "generating_dataset"
	StatusRunningJobs       Status = "running_jobs"
	StatusCompleted         Status = "completed" // terminal
	StatusAborted           Status = "aborted"   // terminal, generation failure only
)

// Campaign is one full run: a dataset spec, its training jobs, and their
// results. The campaign exclusively owns the dataset artifact and all
// results; each job owns only its own output path.
type Campaign struct {
	ID          string             `json:"id"`
	DatasetSpec dataset.Spec       `json:"dataset_spec"`
	JobSpecs    []training.JobSpec `json:"job_specs"`
	Results     []training.Result  `json:"results"`
	Status      Status             `json:"status"`
	AbortReason string             `json:"abort_reason,omitempty"`
	Artifact    *dataset.Artifact  `json:"artifact,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ValidationError prevents an ill-formed campaign from starting at all.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid campaign: " + e.Reason
}

// New builds a validated campaign. Every job is pinned to the campaign's
// dataset output path, and persisting jobs must map to distinct artifact
// paths so concurrent jobs can never cross-write.
func New(spec dataset.Spec, jobs []training.JobSpec) (*Campaign, error) {
	if err := spec.Validate(); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("dataset spec: %v", err)}
	}
	if len(jobs) == 0 {
		return nil, &ValidationError{Reason: "campaign needs at least one training job"}
	}

	pinned := make([]training.JobSpec, len(jobs))
	copy(pinned, jobs)

	seen := make(map[string]int)
	for i := range pinned {
		if pinned[i].DatasetPath == "" {
			pinned[i].DatasetPath = spec.OutputPath
		}
		if pinned[i].DatasetPath != spec.OutputPath {
			return nil, &ValidationError{Reason: fmt.Sprintf(
				"job %d references dataset %s, campaign dataset is %s",
				i, pinned[i].DatasetPath, spec.OutputPath)}
		}
		if err := pinned[i].Validate(); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("job %d: %v", i, err)}
		}
		if !pinned[i].Persist {
			continue
		}
		path := pinned[i].ArtifactPath()
		if prev, dup := seen[path]; dup {
			return nil, &ValidationError{Reason: fmt.Sprintf(
				"jobs %d and %d write the same artifact path %s", prev, i, path)}
		}
		seen[path] = i
	}

	return &Campaign{
		ID:          uuid.NewString(),
		DatasetSpec: spec,
		JobSpecs:    pinned,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Summary is the user-facing rollup of a finished campaign.
type Summary struct {
	CampaignID  string `json:"campaign_id"`
	Status      Status `json:"status"`
	Jobs        int    `json:"jobs"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	AbortReason string `json:"abort_reason,omitempty"`
}

// Summary tallies results. Valid on any terminal campaign.
func (c *Campaign) Summary() Summary {
	s := Summary{
		CampaignID:  c.ID,
		Status:      c.Status,
		Jobs:        len(c.JobSpecs),
		AbortReason: c.AbortReason,
	}
	for _, r := range c.Results {
		switch r.Status {
		case training.StatusSucceeded:
			s.Succeeded++
		case training.StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (s Summary) String() string {
	if s.Status == StatusAborted {
		return fmt.Sprintf("campaign %s aborted: %s", s.CampaignID, s.AbortReason)
	}
	return fmt.Sprintf("campaign %s %s: %d/%d jobs succeeded, %d failed",
		s.CampaignID, s.Status, s.Succeeded, s.Jobs, s.Failed)
}
