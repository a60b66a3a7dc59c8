package harness

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sigbench/sigbench/workload"
)

// scriptedInvoker returns canned outcomes in call order and records every
// invocation it sees. Once the script runs out it succeeds in 1ms.
type scriptedInvoker struct {
	outcomes []outcome
	calls    []Invocation
}

type outcome struct {
	elapsed time.Duration
	err     error
}

func (s *scriptedInvoker) Invoke(
	_ context.Context,
	inv Invocation,
) (time.Duration, error) {
	s.calls = append(s.calls, inv)

	if len(s.outcomes) == 0 {
		return time.Millisecond, nil
	}

	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]

	return out.elapsed, out.err
}

type memorySink struct {
	records []Record
}

func (m *memorySink) Add(rec Record) {
	m.records = append(m.records, rec)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type cellKey struct {
	ParamSet    string
	MessageSize uint64
	Operation   string
	RunIndex    int
}

func TestRunProducesFullMatrix(t *testing.T) {
	cells, err := workload.Enumerate(
		[]string{"A", "B"},
		[]uint64{32, 64},
		[]string{"keygen", "sign"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	invoker := &scriptedInvoker{}
	sink := &memorySink{}

	runner := NewRunner(invoker, sink, testLogger(), RunConfig{
		RunID:      "test-run",
		BenchCmd:   "./bench",
		Iterations: 100,
		WarmupRuns: 0,
		Runs:       2,
	})

	if err := runner.Run(context.Background(), cells); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sink.records) != 16 {
		t.Fatalf("got %d records, want 16", len(sink.records))
	}

	got := make([]cellKey, 0, len(sink.records))
	for _, rec := range sink.records {
		got = append(got, cellKey{
			ParamSet:    rec.ParamSet,
			MessageSize: rec.MessageSize,
			Operation:   rec.Operation,
			RunIndex:    rec.RunIndex,
		})
	}

	want := []cellKey{
		{"A", 32, "keygen", 1}, {"A", 32, "keygen", 2},
		{"A", 32, "sign", 1}, {"A", 32, "sign", 2},
		{"A", 64, "keygen", 1}, {"A", 64, "keygen", 2},
		{"A", 64, "sign", 1}, {"A", 64, "sign", 2},
		{"B", 32, "keygen", 1}, {"B", 32, "keygen", 2},
		{"B", 32, "sign", 1}, {"B", 32, "sign", 2},
		{"B", 64, "keygen", 1}, {"B", 64, "keygen", 2},
		{"B", 64, "sign", 1}, {"B", 64, "sign", 2},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record order mismatch (-want +got):\n%s", diff)
	}

	seen := make(map[cellKey]bool, len(got))
	for _, key := range got {
		if seen[key] {
			t.Errorf("duplicate record key %+v", key)
		}

		seen[key] = true
	}

	for _, rec := range sink.records {
		if rec.TotalNS != time.Millisecond.Nanoseconds() {
			t.Errorf("total_ns = %d, want %d",
				rec.TotalNS, time.Millisecond.Nanoseconds())
		}
		if rec.AvgNS != 10000 {
			t.Errorf("avg_ns = %d, want 10000", rec.AvgNS)
		}
		if rec.Throughput != 100000 {
			t.Errorf("throughput = %v, want 100000", rec.Throughput)
		}
		if rec.RunID != "test-run" {
			t.Errorf("run_id = %q, want test-run", rec.RunID)
		}
		if rec.MeasuredRuns != 2 {
			t.Errorf("measured_runs = %d, want 2", rec.MeasuredRuns)
		}
	}
}

func TestRunFailFastAborts(t *testing.T) {
	cells, err := workload.Enumerate(
		[]string{"A", "B"},
		[]uint64{32},
		[]string{"keygen"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	boom := errors.New("bench command failed: exit status 1")
	invoker := &scriptedInvoker{outcomes: []outcome{
		{time.Millisecond, nil}, // cell 1 run 1
		{time.Millisecond, nil}, // cell 1 run 2
		{time.Millisecond, nil}, // cell 2 run 1
		{0, boom},               // cell 2 run 2
	}}
	sink := &memorySink{}

	runner := NewRunner(invoker, sink, testLogger(), RunConfig{
		RunID:      "abort-run",
		Iterations: 10,
		WarmupRuns: 0,
		Runs:       2,
	})

	err = runner.Run(context.Background(), cells)
	if err == nil {
		t.Fatal("expected fail-fast error")
	}

	if !errors.Is(err, boom) {
		t.Errorf("error does not wrap invocation failure: %v", err)
	}

	if len(invoker.calls) != 4 {
		t.Errorf("invocations = %d, want 4 (no calls after failure)",
			len(invoker.calls))
	}

	want := []cellKey{
		{"A", 32, "keygen", 1},
		{"A", 32, "keygen", 2},
		{"B", 32, "keygen", 1},
	}

	got := make([]cellKey, 0, len(sink.records))
	for _, rec := range sink.records {
		got = append(got, cellKey{
			ParamSet:    rec.ParamSet,
			MessageSize: rec.MessageSize,
			Operation:   rec.Operation,
			RunIndex:    rec.RunIndex,
		})
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records after abort mismatch (-want +got):\n%s", diff)
	}
}

func TestRunWarmupFailuresIgnored(t *testing.T) {
	cells, err := workload.Enumerate(
		[]string{"A"}, []uint64{32}, []string{"sign"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	invoker := &scriptedInvoker{outcomes: []outcome{
		{0, errors.New("warmup crash")},
		{0, errors.New("warmup crash")},
		{2 * time.Millisecond, nil},
	}}
	sink := &memorySink{}

	runner := NewRunner(invoker, sink, testLogger(), RunConfig{
		RunID:      "warmup-run",
		Iterations: 10,
		WarmupRuns: 2,
		Runs:       1,
	})

	if err := runner.Run(context.Background(), cells); err != nil {
		t.Fatalf("Run failed despite warmup-only errors: %v", err)
	}

	if len(invoker.calls) != 3 {
		t.Errorf("invocations = %d, want 3 (2 warmups + 1 measured)",
			len(invoker.calls))
	}

	if len(sink.records) != 1 {
		t.Fatalf("records = %d, want 1 (warmups are not recorded)",
			len(sink.records))
	}

	if sink.records[0].TotalNS != (2 * time.Millisecond).Nanoseconds() {
		t.Errorf("total_ns = %d, want the measured run's duration",
			sink.records[0].TotalNS)
	}
}

func TestRunBuildsInvocationContract(t *testing.T) {
	cells, err := workload.Enumerate(
		[]string{"XMSS-SHA2_10_256"}, []uint64{4096}, []string{"verify"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	invoker := &scriptedInvoker{}
	sink := &memorySink{}

	runner := NewRunner(invoker, sink, testLogger(), RunConfig{
		RunID:      "contract-run",
		Iterations: 500,
		Runs:       1,
		AlgName:    "xmss",
		LibName:    "xmss-reference",
	})

	if err := runner.Run(context.Background(), cells); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := Invocation{
		Operation:   "verify",
		ParamSet:    "XMSS-SHA2_10_256",
		MessageSize: 4096,
		Iterations:  500,
		AlgName:     "xmss",
		LibName:     "xmss-reference",
	}

	if len(invoker.calls) != 1 {
		t.Fatalf("invocations = %d, want 1", len(invoker.calls))
	}

	if diff := cmp.Diff(want, invoker.calls[0]); diff != "" {
		t.Errorf("invocation mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCancelledContext(t *testing.T) {
	cells, err := workload.Enumerate(
		[]string{"A"}, []uint64{32}, []string{"sign"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	invoker := &scriptedInvoker{}
	sink := &memorySink{}
	runner := NewRunner(invoker, sink, testLogger(), RunConfig{Runs: 1})

	if err := runner.Run(ctx, cells); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if len(invoker.calls) != 0 {
		t.Errorf("invocations = %d, want 0 after cancellation",
			len(invoker.calls))
	}

	if len(sink.records) != 0 {
		t.Errorf("records = %d, want 0 after cancellation",
			len(sink.records))
	}
}

func TestAvgNS(t *testing.T) {
	tests := []struct {
		name       string
		totalNS    int64
		iterations uint64
		want       int64
	}{
		{"zero iterations", 1000, 0, 0},
		{"zero duration", 0, 100, 0},
		{"exact", 1000, 100, 10},
		{"rounds up from half", 1050, 100, 11},
		{"rounds down below half", 1049, 100, 10},
		{"half rounds up", 5, 2, 3},
		{"truncates below half", 1, 3, 0},
		{"single iteration", 999999999, 1, 999999999},
		{"count above int64 range", math.MaxInt64, uint64(math.MaxInt64) + 1, 1},
		{"count wraps int64", 1000, math.MaxUint64, 0},
		{"negative total", -1000, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := avgNS(tt.totalNS, tt.iterations)
			if got != tt.want {
				t.Errorf("avgNS(%d, %d) = %d, want %d",
					tt.totalNS, tt.iterations, got, tt.want)
			}
		})
	}
}

func TestThroughput(t *testing.T) {
	tests := []struct {
		name       string
		totalNS    int64
		iterations uint64
		want       float64
	}{
		{"zero duration", 0, 100, 0},
		{"zero iterations", 1000, 0, 0},
		{"whole number", 1e9, 100, 100},
		{"repeating decimal", 3e9, 100, 33.333},
		{"sub-second total", 8000000, 1, 125},
		{"three decimal rounding", 3000000, 7, 2333.333},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := throughput(tt.totalNS, tt.iterations)
			if got != tt.want {
				t.Errorf("throughput(%d, %d) = %v, want %v",
					tt.totalNS, tt.iterations, got, tt.want)
			}
		})
	}
}
