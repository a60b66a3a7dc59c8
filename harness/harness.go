// Package harness drives the benchmark matrix: it invokes the external
// measurement command for every workload cell, times each measured run
// with the monotonic clock, and derives per-run metrics.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigbench/sigbench/envprobe"
	"github.com/sigbench/sigbench/workload"
)

// Sink receives completed records in measurement order and owns them for
// the rest of the run.
type Sink interface {
	Add(rec Record)
}

// RunConfig holds the run-level constants stamped onto every record.
type RunConfig struct {
	RunID      string
	BenchCmd   string
	AlgName    string
	LibName    string
	LibCommit  string
	RNGSource  string
	Iterations uint64
	WarmupRuns uint64
	Runs       uint64
	Env        envprobe.Snapshot
}

// Runner executes the benchmark matrix strictly sequentially. Cells run in
// enumeration order and measured runs within a cell in ascending index
// order; a non-zero exit during a measured run aborts the whole matrix.
type Runner struct {
	invoker Invoker
	sink    Sink
	logger  *slog.Logger
	cfg     RunConfig
}

// NewRunner creates a Runner. The invoker is the sole path to the external
// command; the sink takes ownership of each record as it is produced.
func NewRunner(
	invoker Invoker,
	sink Sink,
	logger *slog.Logger,
	cfg RunConfig,
) *Runner {
	return &Runner{
		invoker: invoker,
		sink:    sink,
		logger:  logger.With(slog.String("run_id", cfg.RunID)),
		cfg:     cfg,
	}
}

// Run drives every cell to completion. Warmup invocations are best-effort;
// measured invocations are fail-fast with no retry, because a retried
// sample would no longer be comparable under warmup assumptions.
func (r *Runner) Run(ctx context.Context, cells []workload.Cell) error {
	for i, cell := range cells {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.InfoContext(ctx, "benchmarking cell",
			slog.Int("cell", i+1),
			slog.Int("total_cells", len(cells)),
			slog.String("operation", cell.Operation),
			slog.String("param_set", cell.ParamSet),
			slog.Uint64("message_size", cell.MessageSize),
		)

		inv := Invocation{
			Operation:   cell.Operation,
			ParamSet:    cell.ParamSet,
			MessageSize: cell.MessageSize,
			Iterations:  r.cfg.Iterations,
			AlgName:     r.cfg.AlgName,
			LibName:     r.cfg.LibName,
		}

		if err := r.runCell(ctx, inv); err != nil {
			return fmt.Errorf("cell %s/%s/%d: %w",
				cell.Operation, cell.ParamSet, cell.MessageSize, err)
		}
	}

	return nil
}

func (r *Runner) runCell(ctx context.Context, inv Invocation) error {
	for w := uint64(1); w <= r.cfg.WarmupRuns; w++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := r.invoker.Invoke(ctx, inv); err != nil {
			r.logger.Warn("warmup failed, continuing",
				slog.Uint64("warmup", w),
				slog.String("error", err.Error()),
			)
		}
	}

	for idx := uint64(1); idx <= r.cfg.Runs; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed, err := r.invoker.Invoke(ctx, inv)
		if err != nil {
			return fmt.Errorf("measured run %d: %w", idx, err)
		}

		totalNS := elapsed.Nanoseconds()

		r.sink.Add(Record{
			RunID:        r.cfg.RunID,
			Timestamp:    time.Now().UTC(),
			Env:          r.cfg.Env,
			AlgName:      r.cfg.AlgName,
			LibName:      r.cfg.LibName,
			LibCommit:    r.cfg.LibCommit,
			RNGSource:    r.cfg.RNGSource,
			BenchCmd:     r.cfg.BenchCmd,
			Iterations:   r.cfg.Iterations,
			WarmupRuns:   r.cfg.WarmupRuns,
			MeasuredRuns: r.cfg.Runs,
			Operation:    inv.Operation,
			ParamSet:     inv.ParamSet,
			MessageSize:  inv.MessageSize,
			RunIndex:     int(idx),
			TotalNS:      totalNS,
			AvgNS:        avgNS(totalNS, r.cfg.Iterations),
			Throughput:   throughput(totalNS, r.cfg.Iterations),
		})
	}

	return nil
}
