package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"triagetrain/internal/campaign"
	"triagetrain/internal/store"
	"triagetrain/internal/training"
)

var (
	campaignSeeds   []int64
	campaignWorkers int
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Run a full training campaign",
	Long: `Runs a campaign end to end: generates (or reuses) the dataset artifact,
then executes one training job per seed on a bounded worker pool.

Job failures are isolated; the campaign aborts only if dataset generation
fails. Ctrl-C cancels cooperatively: running jobs stop at the next epoch
boundary and unstarted jobs are skipped, every job still gets a recorded
result.

Example:
  triagetrain campaign --seeds 1,2,3,4 --workers 4`,
	RunE: runCampaign,
}

func init() {
	campaignCmd.Flags().Int64SliceVar(&campaignSeeds, "seeds", nil, "Training seeds, one job each (default from config)")
	campaignCmd.Flags().IntVar(&campaignWorkers, "workers", 0, "Concurrent job limit (default from config)")
	campaignCmd.Flags().StringVar(&genStrategy, "strategy", "", "Dataset strategy (default from config)")
	campaignCmd.Flags().StringVar(&genStart, "start", "", "Dataset first date (default from config)")
	campaignCmd.Flags().StringVar(&genEnd, "end", "", "Dataset last date (default from config)")
	campaignCmd.Flags().StringVarP(&genOutput, "output", "o", "", "Dataset artifact path (default from config)")
	campaignCmd.Flags().IntVar(&trainChunks, "chunks", 0, "Chunk count (default from config)")
	campaignCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Epoch budget (default from config)")
	campaignCmd.Flags().StringVar(&trainOutDir, "out-dir", "", "Model artifact directory (default from config)")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	datasetSpec, err := datasetSpecFromFlags()
	if err != nil {
		return err
	}

	seeds := campaignSeeds
	if len(seeds) == 0 {
		seeds = cfg.Training.Seeds
	}
	jobs := make([]training.JobSpec, 0, len(seeds))
	for _, seed := range seeds {
		spec, err := jobSpecFromFlags(seed)
		if err != nil {
			return err
		}
		spec.DatasetPath = datasetSpec.OutputPath
		spec.Persist = cfg.Training.Persist
		jobs = append(jobs, spec)
	}

	c, err := campaign.New(datasetSpec, jobs)
	if err != nil {
		return err
	}

	workers := campaignWorkers
	if workers <= 0 {
		workers = cfg.Campaign.Workers
	}

	// Cancel on SIGINT/SIGTERM; jobs stop at the next epoch boundary.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan campaign.Event, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			logger.Info("campaign event",
				zap.String("type", ev.Type),
				zap.Int("job", ev.JobIndex),
				zap.String("message", ev.Message))
		}
	}()

	logger.Info("starting campaign",
		zap.String("id", c.ID),
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", workers))

	orch := campaign.NewOrchestrator(campaign.Config{
		Generator: newGenerator(),
		Workers:   workers,
		Events:    events,
	})
	orch.Execute(ctx, c)
	close(events)
	<-done

	recordCampaign(c)

	summary := c.Summary()
	fmt.Printf("campaign %s: %s\n", c.ID, summary.String())
	for i, r := range c.Results {
		line := fmt.Sprintf("  job %d (seed %d): %s", i, r.Spec.Seed, r.Status)
		if r.Status == training.StatusSucceeded && len(r.Metrics) > 0 {
			line += fmt.Sprintf(", final loss %.6f", r.Metrics[len(r.Metrics)-1].Loss)
		}
		if r.Err != "" {
			line += ": " + r.Err
		}
		fmt.Println(line)
	}

	if c.Status == campaign.StatusAborted {
		return fmt.Errorf("campaign aborted: %s", c.AbortReason)
	}
	return nil
}

// recordCampaign persists the dataset and per-job results; registry failures
// are logged, not fatal.
func recordCampaign(c *campaign.Campaign) {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Warn("run registry unavailable", zap.Error(err))
		return
	}
	defer s.Close()

	if c.Artifact != nil {
		if err := s.RecordDataset(c.Artifact); err != nil {
			logger.Warn("failed to record dataset", zap.Error(err))
		}
	}
	for _, r := range c.Results {
		if err := s.RecordRun(c.ID, r); err != nil {
			logger.Warn("failed to record run", zap.Error(err))
		}
	}
}
