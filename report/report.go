// Package report serializes measurement records and aggregates summaries.
// The CSV and JSON forms are produced from the same record values, so the
// two formats agree on every metric without re-derivation.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/natefinch/atomic"

	"github.com/sigbench/sigbench/envprobe"
	"github.com/sigbench/sigbench/harness"
)

// SchemaVersion identifies the structured output layout.
const SchemaVersion = 1

// Format selects which serializations to publish.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatBoth Format = "both"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCSV, FormatBoth:
		return f, nil
	default:
		return "", fmt.Errorf(
			"unknown output format %q (want json, csv, or both)", s,
		)
	}
}

// JSON reports whether the structured form is selected.
func (f Format) JSON() bool { return f == FormatJSON || f == FormatBoth }

// CSV reports whether the tabular form is selected.
func (f Format) CSV() bool { return f == FormatCSV || f == FormatBoth }

// Metadata describes one run: the shared environment snapshot plus the
// workload configuration, written once per structured document.
type Metadata struct {
	RunID      string
	StartedAt  time.Time
	Env        envprobe.Snapshot
	BenchCmd   string
	AlgName    string
	LibName    string
	LibCommit  string
	RNGSource  string
	ParamSets  []string
	MsgSizes   []uint64
	Operations []string
	Iterations uint64
	WarmupRuns uint64
	Runs       uint64
	Format     string
}

// Sink owns the ordered record sequence for one run. The driver appends
// sequentially; serialization happens only once the full sequence is
// known, so an aborted run never publishes a partial file.
type Sink struct {
	meta    Metadata
	records []harness.Record
}

// NewSink creates a Sink for the given run metadata.
func NewSink(meta Metadata) *Sink {
	return &Sink{meta: meta}
}

// Add appends a record. Records arrive in measurement order and keep it.
func (s *Sink) Add(rec harness.Record) {
	s.records = append(s.records, rec)
}

// Records returns the accumulated records in arrival order.
func (s *Sink) Records() []harness.Record {
	return s.records
}

// Finalize serializes the run and publishes the selected output files with
// an atomic rename, so no partial file ever appears at a final path and
// files from earlier runs are never touched.
func (s *Sink) Finalize(outDir string, format Format) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var paths []string

	if format.JSON() {
		var buf bytes.Buffer
		if err := WriteJSON(&buf, BuildDocument(s.meta, s.records)); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}

		path := JSONPath(outDir, s.meta.RunID)
		if err := atomic.WriteFile(path, &buf); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}

		paths = append(paths, path)
	}

	if format.CSV() {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, s.records); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}

		path := CSVPath(outDir, s.meta.RunID)
		if err := atomic.WriteFile(path, &buf); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}

		paths = append(paths, path)
	}

	return paths, nil
}

// JSONPath returns the structured output path for a run id.
func JSONPath(outDir, runID string) string {
	return filepath.Join(outDir, "run-"+runID+".json")
}

// CSVPath returns the tabular output path for a run id.
func CSVPath(outDir, runID string) string {
	return filepath.Join(outDir, "run-"+runID+".csv")
}

// Header is the fixed CSV column order. Every record field appears by
// name; consumers may also correlate rows with the JSON measurements
// array positionally.
var Header = []string{
	"run_id", "timestamp",
	"cpu_model", "cpu_microcode", "ram_bytes", "os_kernel",
	"compiler_name", "compiler_version", "compiler_flags",
	"lib_name", "lib_commit", "alg_name",
	"turbo_state", "rng_source", "workspace_commit", "bench_cmd",
	"iterations", "warmup_runs", "measured_runs",
	"operation", "parameter_set", "message_size", "run_index",
	"total_ns", "avg_ns", "throughput_ops_per_s",
}

// WriteCSV writes the header and one row per record. Fields containing
// commas, quotes, or newlines get the standard quote-and-double treatment.
func WriteCSV(w io.Writer, records []harness.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		if err := cw.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}

func csvRow(rec harness.Record) []string {
	return []string{
		rec.RunID,
		rec.Timestamp.Format(time.RFC3339),
		rec.Env.CPUModel,
		rec.Env.CPUMicrocode,
		rec.Env.RAMBytes.String(),
		rec.Env.OSKernel,
		rec.Env.CompilerName,
		rec.Env.CompilerVersion,
		rec.Env.CompilerFlags,
		rec.LibName,
		rec.LibCommit,
		rec.AlgName,
		rec.Env.TurboState,
		rec.RNGSource,
		rec.Env.WorkspaceCommit,
		rec.BenchCmd,
		strconv.FormatUint(rec.Iterations, 10),
		strconv.FormatUint(rec.WarmupRuns, 10),
		strconv.FormatUint(rec.MeasuredRuns, 10),
		rec.Operation,
		rec.ParamSet,
		strconv.FormatUint(rec.MessageSize, 10),
		strconv.Itoa(rec.RunIndex),
		strconv.FormatInt(rec.TotalNS, 10),
		strconv.FormatInt(rec.AvgNS, 10),
		strconv.FormatFloat(rec.Throughput, 'f', 3, 64),
	}
}

// Document is the structured output: schema version, run metadata written
// once, and one self-contained element per measurement.
type Document struct {
	SchemaVersion int           `json:"schema_version"`
	Metadata      DocumentMeta  `json:"metadata"`
	Measurements  []Measurement `json:"measurements"`
}

// DocumentMeta is the metadata block of the structured output.
type DocumentMeta struct {
	RunID       string            `json:"run_id"`
	StartedAt   string            `json:"started_at"`
	Environment envprobe.Snapshot `json:"environment"`
	Workload    DocumentWorkload  `json:"workload"`
}

// DocumentWorkload is the workload configuration as serialized once into
// the metadata block.
type DocumentWorkload struct {
	BenchCmd   string   `json:"bench_cmd"`
	AlgName    string   `json:"alg_name"`
	LibName    string   `json:"lib_name"`
	LibCommit  string   `json:"lib_commit"`
	RNGSource  string   `json:"rng_source"`
	ParamSets  []string `json:"param_sets"`
	MsgSizes   []uint64 `json:"msg_sizes"`
	Operations []string `json:"operations"`
	Iterations uint64   `json:"iterations"`
	WarmupRuns uint64   `json:"warmup_runs"`
	Runs       uint64   `json:"measured_runs"`
	Format     string   `json:"format"`
}

// Measurement is one measured invocation. Each element carries its own
// workload identity so the array is consumable without the metadata.
type Measurement struct {
	Operation   string  `json:"operation"`
	ParamSet    string  `json:"parameter_set"`
	MessageSize uint64  `json:"message_size"`
	RunIndex    int     `json:"run_index"`
	Iterations  uint64  `json:"iterations"`
	Timestamp   string  `json:"timestamp"`
	TotalNS     int64   `json:"total_ns"`
	AvgNS       int64   `json:"avg_ns"`
	Throughput  float64 `json:"throughput_ops_per_s"`
}

// BuildDocument assembles the structured document from a run's metadata
// and records.
func BuildDocument(meta Metadata, records []harness.Record) Document {
	measurements := make([]Measurement, 0, len(records))

	for _, rec := range records {
		measurements = append(measurements, Measurement{
			Operation:   rec.Operation,
			ParamSet:    rec.ParamSet,
			MessageSize: rec.MessageSize,
			RunIndex:    rec.RunIndex,
			Iterations:  rec.Iterations,
			Timestamp:   rec.Timestamp.Format(time.RFC3339),
			TotalNS:     rec.TotalNS,
			AvgNS:       rec.AvgNS,
			Throughput:  rec.Throughput,
		})
	}

	return Document{
		SchemaVersion: SchemaVersion,
		Metadata: DocumentMeta{
			RunID:       meta.RunID,
			StartedAt:   meta.StartedAt.UTC().Format(time.RFC3339),
			Environment: meta.Env,
			Workload: DocumentWorkload{
				BenchCmd:   meta.BenchCmd,
				AlgName:    meta.AlgName,
				LibName:    meta.LibName,
				LibCommit:  meta.LibCommit,
				RNGSource:  meta.RNGSource,
				ParamSets:  meta.ParamSets,
				MsgSizes:   meta.MsgSizes,
				Operations: meta.Operations,
				Iterations: meta.Iterations,
				WarmupRuns: meta.WarmupRuns,
				Runs:       meta.Runs,
				Format:     meta.Format,
			},
		},
		Measurements: measurements,
	}
}

// WriteJSON writes the document indented to w.
func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(doc)
}
