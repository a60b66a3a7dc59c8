// Package main provides the CLI entry point for sigbench, a parameterized
// benchmark matrix harness for signature scheme implementations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigbench/sigbench/config"
	"github.com/sigbench/sigbench/envprobe"
	"github.com/sigbench/sigbench/harness"
	"github.com/sigbench/sigbench/report"
	"github.com/sigbench/sigbench/workload"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	root := newRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'sigbench --help' for usage.")
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "sigbench",
		Short: "Benchmark matrix harness for signature implementations",
		Long: `Sigbench drives an external measurement command across the cross-product
of parameter sets, message sizes, and operations, times every invocation
with the monotonic clock, and writes per-run measurement records as CSV
and/or JSON together with a snapshot of the execution environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newSummarizeCmd())

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		benchCmd   string
		outDir     string
		format     string
		paramSets  string
		msgSizes   string
		operations string
		iterations uint64
		warmups    uint64
		runs       uint64
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark matrix",
		Long: `Expand the configured parameter sets, message sizes, and operations into
ordered cells, run warmup and measured invocations of the bench command
for each cell, and publish the collected measurement records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Only flags the user actually set may override the
			// environment and config file layers.
			var flags config.Flags

			set := cmd.Flags()
			if set.Changed("bench-cmd") {
				flags.BenchCmd = &benchCmd
			}
			if set.Changed("out-dir") {
				flags.OutDir = &outDir
			}
			if set.Changed("format") {
				flags.Format = &format
			}
			if set.Changed("param-sets") {
				flags.ParamSets = &paramSets
			}
			if set.Changed("msg-sizes") {
				flags.MsgSizes = &msgSizes
			}
			if set.Changed("operations") {
				flags.Operations = &operations
			}
			if set.Changed("iterations") {
				flags.Iterations = &iterations
			}
			if set.Changed("warmups") {
				flags.Warmups = &warmups
			}
			if set.Changed("runs") {
				flags.Runs = &runs
			}

			cfg, err := config.Load(environMap(), configPath, flags)
			if err != nil {
				return err
			}

			return runMatrix(cmd.Context(), logger, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&benchCmd, "bench-cmd", "",
		"Shell command that runs one batch of operations (required)")
	flags.StringVar(&outDir, "out-dir", "",
		"Directory for result files (default: <executable dir>/results)")
	flags.StringVar(&format, "format", config.DefaultFormat,
		"Output format: json, csv, or both")
	flags.StringVar(&paramSets, "param-sets", "",
		"Comma-separated parameter set names (required)")
	flags.StringVar(&msgSizes, "msg-sizes", config.DefaultMsgSizes,
		"Comma-separated message sizes in bytes")
	flags.StringVar(&operations, "operations", config.DefaultOperations,
		"Comma-separated operations to benchmark")
	flags.Uint64Var(&iterations, "iterations", config.DefaultIterations,
		"Operations per invocation of the bench command")
	flags.Uint64Var(&warmups, "warmups", config.DefaultWarmupRuns,
		"Discarded warmup invocations per cell")
	flags.Uint64Var(&runs, "runs", config.DefaultRuns,
		"Measured invocations per cell")
	flags.StringVar(&configPath, "config", "",
		"Path to a JSONC config file (default: ./" + config.DefaultConfigFile + ")")

	return cmd
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <csv-file>",
		Short: "Print per-cell means from a tabular result file",
		Long: `Read a CSV result file, group its rows by operation, parameter set, and
message size, and print the mean latency and throughput per group. Works
on files written by any sigbench invocation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return report.Summarize(args[0], os.Stdout)
		},
	}
}

func runMatrix(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.Config,
) error {
	runID := cfg.RunID
	if runID == "" {
		runID = newRunID()
	}

	start := time.Now()

	logger.InfoContext(ctx, "starting run",
		slog.String("run_id", runID),
		slog.String("bench_cmd", cfg.BenchCmd),
		slog.Any("param_sets", cfg.ParamSets),
		slog.Any("msg_sizes", cfg.MsgSizes),
		slog.Any("operations", cfg.Operations),
		slog.Uint64("iterations", cfg.Iterations),
		slog.Uint64("warmups", cfg.WarmupRuns),
		slog.Uint64("runs", cfg.Runs),
		slog.String("format", string(cfg.Format)),
	)

	// Step 1: Expand the workload matrix.
	cells, err := workload.Enumerate(
		cfg.ParamSets, cfg.MsgSizes, cfg.Operations,
	)
	if err != nil {
		return fmt.Errorf("enumerate workload: %w", err)
	}

	// Step 2: Snapshot the environment once; every record shares it.
	env := envprobe.Collect(ctx, logger, envprobe.Overrides{
		CompilerName:    cfg.CompilerName,
		CompilerVersion: cfg.CompilerVersion,
		CompilerFlags:   cfg.CompilerFlags,
		TurboState:      cfg.TurboState,
		WorkDir:         workDir(),
	})

	// Step 3: Drive every cell sequentially, streaming records into the
	// sink in measurement order.
	sink := report.NewSink(report.Metadata{
		RunID:      runID,
		StartedAt:  start.UTC(),
		Env:        env,
		BenchCmd:   cfg.BenchCmd,
		AlgName:    cfg.AlgName,
		LibName:    cfg.LibName,
		LibCommit:  cfg.LibCommit,
		RNGSource:  cfg.RNGSource,
		ParamSets:  cfg.ParamSets,
		MsgSizes:   cfg.MsgSizes,
		Operations: cfg.Operations,
		Iterations: cfg.Iterations,
		WarmupRuns: cfg.WarmupRuns,
		Runs:       cfg.Runs,
		Format:     string(cfg.Format),
	})

	runner := harness.NewRunner(
		&harness.CommandInvoker{Command: cfg.BenchCmd},
		sink,
		logger,
		harness.RunConfig{
			RunID:      runID,
			BenchCmd:   cfg.BenchCmd,
			AlgName:    cfg.AlgName,
			LibName:    cfg.LibName,
			LibCommit:  cfg.LibCommit,
			RNGSource:  cfg.RNGSource,
			Iterations: cfg.Iterations,
			WarmupRuns: cfg.WarmupRuns,
			Runs:       cfg.Runs,
			Env:        env,
		},
	)

	if err := runner.Run(ctx, cells); err != nil {
		return fmt.Errorf("run workload: %w", err)
	}

	// Step 4: Publish the full record sequence.
	paths, err := sink.Finalize(cfg.OutDir, cfg.Format)
	if err != nil {
		return fmt.Errorf("publish results: %w", err)
	}

	logger.InfoContext(ctx, "run complete",
		slog.String("run_id", runID),
		slog.Int("cells", len(cells)),
		slog.Int("records", len(sink.Records())),
		slog.Any("files", paths),
		slog.Duration("elapsed", time.Since(start)),
	)

	// Step 5: Optional summary over the tabular output. Failures here
	// warn without touching the exit code; the measurements are already
	// published.
	if cfg.PrintSummary {
		if !cfg.Format.CSV() {
			logger.Warn("summary requested but csv output is disabled")

			return nil
		}

		path := report.CSVPath(cfg.OutDir, runID)
		if err := report.Summarize(path, os.Stdout); err != nil {
			logger.Warn("summary failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// newRunID derives a sortable run identifier from the start time and pid,
// unique enough for one host.
func newRunID() string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" +
		strconv.Itoa(os.Getpid())
}

// environMap snapshots the process environment for config resolution.
func environMap() map[string]string {
	env := make(map[string]string)

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	return env
}

// workDir is where the workspace revision probe runs: the directory of the
// harness binary, falling back to the working directory.
func workDir() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Dir(exe)
	}

	if wd, err := os.Getwd(); err == nil {
		return wd
	}

	return ""
}
