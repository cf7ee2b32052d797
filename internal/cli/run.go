package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/tickmirror/internal/config"
	"github.com/roach88/tickmirror/internal/engine"
	"github.com/roach88/tickmirror/internal/metrics"
	"github.com/roach88/tickmirror/internal/mirror"
	"github.com/roach88/tickmirror/internal/pipeline"
	"github.com/roach88/tickmirror/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Source        string
	Mirror        string
	Interval      time.Duration
	MaxTicks      uint64
	FailurePolicy string
	Pipeline      string
	Debug         bool
	MetricsAddr   string

	// IDGenerator allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror the source database and start the tick scheduler",
		Long: `Mirror the source database into the shared in-memory database, then run
the tick pipeline against the mirror until interrupted.

The source is read exactly once, before the first tick. Changes made by the
pipeline are never written back to it.

Every debug projection row is logged at info level. With --debug the rows
are also printed to stdout.

Example:
  tickmirror run --source ./world.db
  DATABASE_URL=sqlite://world.db tickmirror run --interval 100ms --debug
  tickmirror run -c tickmirror.yaml --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicks(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "source database path or URI (default $DATABASE_URL)")
	cmd.Flags().StringVar(&opts.Mirror, "mirror", "", "in-memory mirror URI")
	cmd.Flags().DurationVar(&opts.Interval, "interval", engine.DefaultInterval, "delay between ticks")
	cmd.Flags().Uint64Var(&opts.MaxTicks, "max-ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().StringVar(&opts.FailurePolicy, "failure-policy", string(engine.PolicyHalt), "on tick failure: halt|skip")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "pipeline file replacing the built-in steps")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "print the debug projection to stdout every tick")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func (opts *RunOptions) applyFlags(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("source") {
			cfg.Source = opts.Source
		}
		if flags.Changed("mirror") {
			cfg.Mirror = opts.Mirror
		}
		if flags.Changed("interval") {
			cfg.Interval = opts.Interval
		}
		if flags.Changed("max-ticks") {
			cfg.MaxTicks = opts.MaxTicks
		}
		if flags.Changed("failure-policy") {
			cfg.FailurePolicy = opts.FailurePolicy
		}
		if flags.Changed("pipeline") {
			cfg.Pipeline = opts.Pipeline
		}
		if flags.Changed("debug") {
			cfg.Debug = opts.Debug
		}
		if flags.Changed("metrics-addr") {
			cfg.MetricsAddr = opts.MetricsAddr
		}
	}
}

func runTicks(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd, opts.applyFlags(cmd))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	policy, _ := engine.ParseFailurePolicy(cfg.FailurePolicy) // Checked by Validate
	steps, err := cfg.Steps()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load pipeline", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	// The pool's connections keep the shared in-memory database alive, so it
	// is opened before the mirror is loaded.
	pool, err := store.Open(ctx, cfg.Mirror, cfg.Pool)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open mirror pool", err)
	}
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			slog.Error("error closing mirror pool", "error", closeErr)
		}
	}()

	report, err := mirror.Load(ctx, cfg.Source, cfg.Mirror)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load mirror", err)
	}

	var sink pipeline.Sink = pipeline.LogSink{}
	if cfg.Debug {
		sink = pipeline.MultiSink{pipeline.NewWriterSink(cmd.OutOrStdout()), sink}
	}
	p, err := pipeline.New(pool, steps,
		pipeline.WithSink(sink),
		pipeline.WithObserver(metrics.StepObserver{}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid pipeline", err)
	}

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr)
		defer stop()
	}

	schedOpts := []engine.Option{
		engine.WithInterval(cfg.Interval),
		engine.WithFailurePolicy(policy),
		engine.WithMaxTicks(cfg.MaxTicks),
	}
	if opts.IDGenerator != nil {
		schedOpts = append(schedOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	sched := engine.New(p, schedOpts...)

	if opts.Format == "text" && !cfg.Debug {
		fmt.Fprintf(cmd.OutOrStdout(), "Mirror loaded: %d table(s), %d row(s).\n", len(report.Catalog.Tables), report.TotalRows())
		fmt.Fprintf(cmd.OutOrStdout(), "Scheduler %s started. Press Ctrl-C to stop.\n", sched.RunID())
	}

	err = <-sched.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler halted", err)
	}

	slog.Info("scheduler stopped gracefully", "run_id", sched.RunID(), "ticks", sched.Ticks())
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(RunSummary{RunID: sched.RunID(), Ticks: sched.Ticks(), State: sched.State().String()})
	}
	return nil
}

// RunSummary is the JSON result of a finished run.
type RunSummary struct {
	RunID string `json:"run_id"`
	Ticks uint64 `json:"ticks"`
	State string `json:"state"`
}

// serveMetrics exposes the Prometheus registry on addr until stop is called.
func serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
}
