// Command cadence plays fixed-cadence audio into a voice transport and
// measures the bandwidth the transport really uses.
//
//	cadence run --config cadence.yaml
//	cadence drift --interval 10ms --ticks 1000
//	cadence results --dsn postgres://... --label stress
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/rate/postgres"
	"github.com/MrWong99/cadence/pkg/scheduler"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "cadence",
		Short:         "Drift-corrected audio frame pump with bandwidth measurement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newDriftCommand(), newResultsCommand(), newVersionCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cadence: %v\n", err)
		return 1
	}
	return 0
}

func newRunCommand() *cobra.Command {
	var (
		configPath string
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play the configured source into the configured sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), configPath, watch)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "cadence.yaml", "path to the YAML configuration file")
	cmd.Flags().BoolVar(&watch, "watch", true, "hot-reload volume, loop and log level from the config file")
	return cmd
}

func runApp(ctx context.Context, configPath string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found", configPath)
		}
		return err
	}

	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("cadence starting",
		"version", version,
		"config", configPath,
		"source", cfg.Playback.Source,
		"sink", cfg.Sink.Kind,
		"listen_addr", cfg.Server.ListenAddr,
	)

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithMetricsHandler(provider.Handler()),
	}
	if watch {
		opts = append(opts, app.WithConfigWatch(configPath, 0))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	err = errors.Join(runErr, application.Shutdown(shutdownCtx), provider.Shutdown(shutdownCtx))
	if err == nil {
		slog.Info("goodbye")
	}
	return err
}

func newDriftCommand() *cobra.Command {
	var (
		interval time.Duration
		ticks    int
		margin   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare tick spacing with and without drift correction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d ticks at %v\n", ticks, interval)

			runs := []struct {
				name string
				opts []scheduler.Option
			}{
				{"corrected", []scheduler.Option{scheduler.WithMargin(margin)}},
				{"coarse", []scheduler.Option{scheduler.WithoutCorrection()}},
			}
			for _, r := range runs {
				st, err := scheduler.MeasureDrift(cmd.Context(), interval, ticks, r.opts...)
				if err != nil {
					return fmt.Errorf("%s: %w", r.name, err)
				}
				fmt.Fprintf(out, "%-10s mean |dev| %-10v max |dev| %-10v mean lateness %v\n",
					r.name, st.MeanAbsDeviation, st.MaxDeviation, st.MeanLateness)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Millisecond, "tick interval")
	cmd.Flags().IntVar(&ticks, "ticks", 500, "number of ticks per run")
	cmd.Flags().DurationVar(&margin, "margin", scheduler.DefaultMargin, "coarse timer margin of the corrected run")
	return cmd
}

func newResultsCommand() *cobra.Command {
	var (
		dsn   string
		label string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored measurement results and their average",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = os.Getenv("CADENCE_POSTGRES_DSN")
			}
			if dsn == "" {
				return errors.New("--dsn or CADENCE_POSTGRES_DSN is required")
			}
			ctx := cmd.Context()
			store, closeDB, err := postgres.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer closeDB(context.WithoutCancel(ctx))

			records, err := store.List(ctx, label, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range records {
				fmt.Fprintf(out, "#%-5d %-20s %s  %s\n",
					rec.ID, rec.Label, humanize.Time(rec.Start), rec.Summary())
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}

			avg, err := store.Average(ctx, label, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "average of %d: %s\n", len(records), avg.Summary())
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default $CADENCE_POSTGRES_DSN)")
	cmd.Flags().StringVar(&label, "label", "", "only results with this label")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cadence", version)
		},
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
