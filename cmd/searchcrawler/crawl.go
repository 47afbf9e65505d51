package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// newCrawlCmd creates the 'crawl' subcommand, which prepares the schema,
// seeds the frontier and crawls until the frontier is exhausted.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl from the seed URLs and build the index",
		Long: `Resets the index schema (unless store.reset_on_start is false or
--no-reset is given), seeds the frontier and crawls one URL at a time until
the frontier is exhausted, the page limit is reached or the process is
interrupted. Relevance scores are recomputed every relevance.batch_size pages.`,
		RunE: withRuntime(runCrawlCommand),
	}
	cmd.Flags().StringSlice("seed", nil, "seed URL; repeat or comma-separate to give several")
	cmd.Flags().Int("max-pages", 0, "stop after this many newly indexed pages (0 = no limit)")
	cmd.Flags().Bool("no-reset", false, "keep existing index tables and resume")
	cmd.Flags().String("admin-addr", "", "listen address of the admin HTTP server")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, rt *runtime) error {
	ctx := cmd.Context()
	if err := rt.app.PrepareSchema(ctx, rt.cfg.Store.ResetOnStart); err != nil {
		return err
	}
	sched, err := rt.app.NewScheduler()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	adminCtx, stopAdmin := context.WithCancel(gctx)
	defer stopAdmin()

	if addr := rt.cfg.Admin.Addr; addr != "" {
		server := rt.app.NewAdminServer(sched)
		g.Go(func() error {
			return server.ListenAndServe(adminCtx, addr)
		})
	}

	g.Go(func() error {
		defer stopAdmin()
		stats, err := sched.Run(gctx)
		rt.logger.Info("crawl command finished",
			zap.String("run_id", stats.RunID),
			zap.String("state", string(stats.State)),
			zap.Int("indexed", stats.Indexed),
			zap.Int64("total_pages", stats.TotalPages),
		)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Interrupted by a signal; the store is consistent.
			return nil
		}
		if err != nil {
			return fmt.Errorf("run crawler: %w", err)
		}
		return nil
	})

	return g.Wait()
}
