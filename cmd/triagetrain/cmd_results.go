package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"triagetrain/internal/store"
)

var (
	resultsLimit    int
	resultsCampaign string
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List recorded training runs",
	RunE:  runResults,
}

func init() {
	resultsCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 20, "Maximum runs to show")
	resultsCmd.Flags().StringVar(&resultsCampaign, "campaign", "", "Show only runs of this campaign")
}

func runResults(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	var runs []store.RunRecord
	if resultsCampaign != "" {
		runs, err = s.CampaignRuns(resultsCampaign)
	} else {
		runs, err = s.ListRuns(resultsLimit)
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAMPAIGN\tMODEL\tCHUNKS\tSEED\tEPOCHS\tSTATUS\tFINAL LOSS\tARTIFACT")
	for _, r := range runs {
		loss := "-"
		if r.FinalLoss.Valid {
			loss = fmt.Sprintf("%.6f", r.FinalLoss.Float64)
		}
		artifact := r.ArtifactPath
		if artifact == "" {
			artifact = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.ID, shortID(r.CampaignID), r.ModelVariant, r.ChunkCount,
			r.Seed, r.Epochs, r.Status, loss, artifact)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
