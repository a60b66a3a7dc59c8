package harness

import (
	"math"
	"time"

	"github.com/sigbench/sigbench/envprobe"
)

// Record holds one measured invocation. Records are immutable once built;
// every record of a run shares the same environment snapshot and the same
// run-level configuration fields.
type Record struct {
	RunID     string
	Timestamp time.Time
	Env       envprobe.Snapshot

	AlgName   string
	LibName   string
	LibCommit string
	RNGSource string
	BenchCmd  string

	Iterations   uint64
	WarmupRuns   uint64
	MeasuredRuns uint64

	Operation   string
	ParamSet    string
	MessageSize uint64
	RunIndex    int

	TotalNS    int64
	AvgNS      int64
	Throughput float64
}

// avgNS is the rounded per-iteration latency, zero when either input is
// not positive. The arithmetic stays in uint64 so an iteration count
// above the int64 range cannot wrap the result negative.
func avgNS(totalNS int64, iterations uint64) int64 {
	if iterations == 0 || totalNS <= 0 {
		return 0
	}

	total := uint64(totalNS)

	return int64((total + iterations/2) / iterations)
}

// throughput is operations per second implied by the total duration,
// rounded to three decimals, zero when the duration is zero.
func throughput(totalNS int64, iterations uint64) float64 {
	if totalNS == 0 {
		return 0
	}

	ops := float64(iterations) * 1e9 / float64(totalNS)

	return math.Round(ops*1000) / 1000
}
