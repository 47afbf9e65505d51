package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

// newRecomputeCmd creates the 'recompute' subcommand: one relevance pass
// over an existing index, without touching the crawl state.
func newRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Recompute every relevance score of an existing index",
		RunE:  withRuntime(runRecomputeCommand),
	}
}

func runRecomputeCommand(cmd *cobra.Command, rt *runtime) error {
	ctx := cmd.Context()
	if err := rt.app.PrepareSchema(ctx, false); err != nil {
		return err
	}
	sum, err := rt.app.NewRelevanceJob().RecomputeAll(ctx)
	if err != nil {
		return fmt.Errorf("recompute relevance: %w", err)
	}

	if pub := rt.app.Publisher(); pub != nil {
		ev := crawler.RelevanceRecomputedEvent{
			Type:       crawler.EventRelevanceRecomputed,
			TotalPages: sum.TotalPages,
			Terms:      sum.Terms,
			Rows:       sum.Rows,
			DurationMs: sum.Duration.Milliseconds(),
			FinishedAt: time.Now().UTC(),
		}
		if _, err := pub.Publish(ctx, rt.cfg.Events.Topic, ev); err != nil {
			return fmt.Errorf("publish recompute event: %w", err)
		}
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "recomputed %d terms (%d rows) over %d pages in %s\n",
		sum.Terms, sum.Rows, sum.TotalPages, sum.Duration.Round(time.Millisecond))
	return err
}
