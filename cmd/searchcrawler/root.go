package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/app"
	"github.com/JakeFAU/searchcrawler/internal/config"
	"github.com/JakeFAU/searchcrawler/internal/logging"
	"github.com/JakeFAU/searchcrawler/internal/telemetry"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	app    *app.App
	logger *zap.Logger
	tracer *sdktrace.TracerProvider
}

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "searchcrawler",
		Short: "A priority-ordered web crawler with an incremental TF-IDF index.",
		Long: `searchcrawler follows links from its seed URLs, most referenced first,
indexes every page that has a title and periodically recomputes the TF-IDF
relevance of each term occurrence in a PostgreSQL or SQLite store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			var tp *sdktrace.TracerProvider
			if cfg.Tracing.Enabled {
				tp, err = telemetry.InitTracerProvider(cmd.Context(), cfg.Tracing.ServiceName)
				if err != nil {
					_ = logger.Sync()
					return err
				}
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				shutdownTracer(tp, logger)
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			rt := &runtime{cfg: cfg, app: appInstance, logger: logger, tracer: tp}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, rt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newRecomputeCmd())
	return cmd
}

// applyFlagOverrides copies explicitly set subcommand flags over the loaded
// configuration and validates the result.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if f := flags.Lookup("seed"); f != nil && f.Changed {
		seeds, err := flags.GetStringSlice("seed")
		if err != nil {
			return err
		}
		cfg.Crawler.SeedURLs = seeds
	}
	if f := flags.Lookup("max-pages"); f != nil && f.Changed {
		n, err := flags.GetInt("max-pages")
		if err != nil {
			return err
		}
		cfg.Crawler.MaxPages = n
	}
	if f := flags.Lookup("no-reset"); f != nil && f.Changed {
		noReset, err := flags.GetBool("no-reset")
		if err != nil {
			return err
		}
		cfg.Store.ResetOnStart = !noReset
	}
	if f := flags.Lookup("admin-addr"); f != nil && f.Changed {
		addr, err := flags.GetString("admin-addr")
		if err != nil {
			return err
		}
		cfg.Admin.Addr = addr
	}
	return cfg.Validate()
}

// withRuntime resolves the runtime built by PersistentPreRunE and releases it
// once fn returns, whether or not fn succeeded.
func withRuntime(fn func(cmd *cobra.Command, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		rt, err := resolveRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			closeErr := rt.app.Close()
			shutdownTracer(rt.tracer, rt.logger)
			_ = rt.logger.Sync()
			if err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, rt)
	}
}

func shutdownTracer(tp *sdktrace.TracerProvider, logger *zap.Logger) {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(appKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}
