package campaign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"triagetrain/internal/dataset"
	"triagetrain/internal/logging"
	"triagetrain/internal/training"
)

// Event is emitted as the orchestrator moves through the campaign. Sends are
// non-blocking: a slow consumer drops events, never stalls training.
type Event struct {
	Type      string    `json:"type"` // campaign_started, dataset_generated, generation_failed, job_started, job_finished, campaign_completed, campaign_aborted
	Timestamp time.Time `json:"timestamp"`
	JobIndex  int       `json:"job_index"` // -1 for campaign-level events
	Message   string    `json:"message"`
}

// Config holds orchestrator wiring.
type Config struct {
	Generator *dataset.Generator
	Workers   int        // max concurrent training jobs; <= 0 means 1
	Events    chan Event // optional
}

// Orchestrator executes campaigns. Safe for use by one campaign at a time;
// construct one per campaign run.
type Orchestrator struct {
	mu        sync.RWMutex
	generator *dataset.Generator
	workers   int
	events    chan Event
}

// NewOrchestrator creates a campaign orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	gen := cfg.Generator
	if gen == nil {
		gen = dataset.NewGenerator()
	}
	return &Orchestrator{
		generator: gen,
		workers:   workers,
		events:    cfg.Events,
	}
}

// Execute runs the campaign to a terminal state. It never returns an error
// and never panics past its boundary: generation failure lands in
// Campaign.AbortReason, job failures land in their Results. The returned
// campaign is the same object, populated in place.
func (o *Orchestrator) Execute(ctx context.Context, c *Campaign) *Campaign {
	timer := logging.StartTimer(logging.CategoryCampaign, "Execute")
	defer timer.StopWithInfo()

	o.setStatus(c, StatusGeneratingDataset)
	o.emit("campaign_started", -1, fmt.Sprintf("campaign %s: generating dataset", c.ID))
	logging.Campaign("campaign %s: generating dataset %s (%s %s..%s)",
		c.ID, c.DatasetSpec.OutputPath, c.DatasetSpec.Strategy, c.DatasetSpec.StartDate, c.DatasetSpec.EndDate)

	// Generation is the one-shot gate: its failure aborts everything and no
	// job ever starts.
	artifact, err := o.generator.Generate(ctx, c.DatasetSpec)
	if err != nil {
		o.mu.Lock()
		c.Status = StatusAborted
		c.AbortReason = err.Error()
		o.mu.Unlock()
		o.emit("generation_failed", -1, err.Error())
		o.emit("campaign_aborted", -1, c.AbortReason)
		logging.Get(logging.CategoryCampaign).Error("campaign %s aborted: %v", c.ID, err)
		return c
	}

	o.mu.Lock()
	c.Artifact = artifact
	o.mu.Unlock()
	o.emit("dataset_generated", -1, fmt.Sprintf("%s (%d rows)", artifact.Path, artifact.Manifest.RowCount))

	o.setStatus(c, StatusRunningJobs)
	logging.Campaign("campaign %s: running %d jobs on %d workers", c.ID, len(c.JobSpecs), o.workers)

	results := make([]training.Result, len(c.JobSpecs))

	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	for i := range c.JobSpecs {
		idx := i
		spec := c.JobSpecs[i]
		g.Go(func() error {
			// Cancellation stops scheduling: a job that has not begun by the
			// time the context dies is recorded as cancelled, not run.
			if ctx.Err() != nil {
				results[idx] = training.Result{
					Spec:   spec,
					Status: training.StatusFailed,
					Err:    fmt.Errorf("%w before start", training.ErrCancelled).Error(),
				}
				o.emit("job_finished", idx, "cancelled before start")
				return nil
			}

			o.emit("job_started", idx, fmt.Sprintf("seed=%d", spec.Seed))
			res := training.Run(ctx, spec)
			results[idx] = res

			msg := string(res.Status)
			if res.Err != "" {
				msg = fmt.Sprintf("%s: %s", res.Status, res.Err)
			}
			o.emit("job_finished", idx, msg)
			return nil
		})
	}
	// Jobs are isolated; they report failure through their result, so Wait
	// never observes an error.
	_ = g.Wait()

	o.mu.Lock()
	c.Results = results
	c.Status = StatusCompleted
	o.mu.Unlock()

	summary := c.Summary()
	o.emit("campaign_completed", -1, summary.String())
	logging.Campaign("%s", summary.String())
	return c
}

func (o *Orchestrator) setStatus(c *Campaign, s Status) {
	o.mu.Lock()
	c.Status = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(eventType string, jobIndex int, message string) {
	if o.events == nil {
		return
	}
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		JobIndex:  jobIndex,
		Message:   message,
	}
	select {
	case o.events <- ev:
	default:
		// Channel full, skip
	}
}
