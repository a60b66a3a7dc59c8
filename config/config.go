// Package config resolves the run configuration from defaults, an optional
// JSONC config file, the process environment, and CLI flags, in that order
// of increasing precedence. Resolution is pure over an environment map so
// tests never mutate the process environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/sigbench/sigbench/report"
	"github.com/sigbench/sigbench/workload"
)

const (
	// DefaultConfigFile is looked for in the working directory when no
	// --config flag is given; it is optional there, required when explicit.
	DefaultConfigFile = "sigbench.json"

	DefaultFormat     = string(report.FormatBoth)
	DefaultMsgSizes   = "32,256,1024,4096"
	DefaultOperations = "keygen,sign,verify"
	DefaultIterations = 100
	DefaultWarmupRuns = 3
	DefaultRuns       = 5
)

// Config is the fully resolved, validated run configuration.
type Config struct {
	BenchCmd string
	OutDir   string
	Format   report.Format

	ParamSets  []string
	MsgSizes   []uint64
	Operations []string

	Iterations uint64
	WarmupRuns uint64
	Runs       uint64

	AlgName   string
	LibName   string
	LibCommit string
	RNGSource string

	CompilerName    string
	CompilerVersion string
	CompilerFlags   string
	TurboState      string

	RunID        string
	PrintSummary bool
}

// Flags carries the values of CLI flags the user explicitly set. Nil
// fields were not given on the command line and leave lower layers alone.
type Flags struct {
	BenchCmd   *string
	OutDir     *string
	Format     *string
	ParamSets  *string
	MsgSizes   *string
	Operations *string
	Iterations *uint64
	Warmups    *uint64
	Runs       *uint64
}

// Load resolves the configuration. env is a snapshot of the process
// environment (see cmd's environMap); configPath is the --config value,
// empty meaning "try DefaultConfigFile if present".
func Load(env map[string]string, configPath string, flags Flags) (Config, error) {
	raw := defaultsRaw()

	if err := raw.applyFile(configPath); err != nil {
		return Config{}, err
	}

	if err := raw.applyEnv(env); err != nil {
		return Config{}, err
	}

	raw.applyFlags(flags)

	return raw.finish()
}

// rawConfig holds the layered values before validation. List-valued
// settings stay comma-joined strings until finish so every layer merges
// the same way.
type rawConfig struct {
	benchCmd   string
	outDir     string
	format     string
	paramSets  string
	msgSizes   string
	operations string

	iterations uint64
	warmupRuns uint64
	runs       uint64

	algName   string
	libName   string
	libCommit string
	rngSource string

	compilerName    string
	compilerVersion string
	compilerFlags   string
	turboState      string

	runID        string
	printSummary bool
}

// fileConfig is the JSONC config file schema. Pointer scalars distinguish
// "absent" from zero values; list fields replace the whole list.
type fileConfig struct {
	BenchCmd   *string  `json:"bench_cmd"`
	OutDir     *string  `json:"out_dir"`
	Format     *string  `json:"format"`
	ParamSets  []string `json:"param_sets"`
	MsgSizes   []uint64 `json:"msg_sizes"`
	Operations []string `json:"operations"`

	Iterations *uint64 `json:"iterations"`
	WarmupRuns *uint64 `json:"warmup_runs"`
	Runs       *uint64 `json:"runs"`

	AlgName   *string `json:"alg_name"`
	LibName   *string `json:"lib_name"`
	LibCommit *string `json:"lib_commit"`
	RNGSource *string `json:"rng_source"`

	CompilerName    *string `json:"compiler_name"`
	CompilerVersion *string `json:"compiler_version"`
	CompilerFlags   *string `json:"compiler_flags"`
	TurboState      *string `json:"turbo_state"`

	RunID        *string `json:"run_id"`
	PrintSummary *bool   `json:"print_summary"`
}

func defaultsRaw() rawConfig {
	return rawConfig{
		outDir:     defaultOutDir(),
		format:     DefaultFormat,
		msgSizes:   DefaultMsgSizes,
		operations: DefaultOperations,
		iterations: DefaultIterations,
		warmupRuns: DefaultWarmupRuns,
		runs:       DefaultRuns,
	}
}

func (c *rawConfig) applyFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}

		return fmt.Errorf("read config file: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	var f fileConfig
	if err := json.Unmarshal(std, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.merge(f)

	return nil
}

func (c *rawConfig) merge(f fileConfig) {
	setString(&c.benchCmd, f.BenchCmd)
	setString(&c.outDir, f.OutDir)
	setString(&c.format, f.Format)

	if len(f.ParamSets) > 0 {
		c.paramSets = strings.Join(f.ParamSets, ",")
	}

	if len(f.MsgSizes) > 0 {
		c.msgSizes = joinSizes(f.MsgSizes)
	}

	if len(f.Operations) > 0 {
		c.operations = strings.Join(f.Operations, ",")
	}

	setUint(&c.iterations, f.Iterations)
	setUint(&c.warmupRuns, f.WarmupRuns)
	setUint(&c.runs, f.Runs)

	setString(&c.algName, f.AlgName)
	setString(&c.libName, f.LibName)
	setString(&c.libCommit, f.LibCommit)
	setString(&c.rngSource, f.RNGSource)

	setString(&c.compilerName, f.CompilerName)
	setString(&c.compilerVersion, f.CompilerVersion)
	setString(&c.compilerFlags, f.CompilerFlags)
	setString(&c.turboState, f.TurboState)

	setString(&c.runID, f.RunID)

	if f.PrintSummary != nil {
		c.printSummary = *f.PrintSummary
	}
}

func (c *rawConfig) applyEnv(env map[string]string) error {
	envString := func(dst *string, key string) {
		if v := env[key]; v != "" {
			*dst = v
		}
	}

	envString(&c.benchCmd, "BENCH_CMD")
	envString(&c.outDir, "OUT_DIR")
	envString(&c.format, "FORMAT")
	envString(&c.paramSets, "PARAM_SETS")
	envString(&c.msgSizes, "MSG_SIZES")
	envString(&c.operations, "OPERATIONS")

	counts := []struct {
		key string
		dst *uint64
	}{
		{"ITERATIONS", &c.iterations},
		{"WARMUP_RUNS", &c.warmupRuns},
		{"RUNS", &c.runs},
	}
	for _, e := range counts {
		v := env[e.key]
		if v == "" {
			continue
		}

		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s %q is not a non-negative integer", e.key, v)
		}

		*e.dst = n
	}

	envString(&c.algName, "ALG_NAME")
	envString(&c.libName, "LIB_NAME")
	envString(&c.libCommit, "LIB_COMMIT")
	envString(&c.rngSource, "RNG_SOURCE")
	envString(&c.compilerName, "COMPILER_NAME")
	envString(&c.compilerVersion, "COMPILER_VERSION")
	envString(&c.compilerFlags, "COMPILER_FLAGS")
	envString(&c.turboState, "TURBO_STATE")
	envString(&c.runID, "RUN_ID")

	if v := env["PRINT_SUMMARY"]; v != "" {
		c.printSummary = v == "1"
	}

	return nil
}

func (c *rawConfig) applyFlags(f Flags) {
	setString(&c.benchCmd, f.BenchCmd)
	setString(&c.outDir, f.OutDir)
	setString(&c.format, f.Format)
	setString(&c.paramSets, f.ParamSets)
	setString(&c.msgSizes, f.MsgSizes)
	setString(&c.operations, f.Operations)
	setUint(&c.iterations, f.Iterations)
	setUint(&c.warmupRuns, f.Warmups)
	setUint(&c.runs, f.Runs)
}

// finish validates the layered values and parses the list-valued settings.
// Any error here aborts before a single invocation.
func (c *rawConfig) finish() (Config, error) {
	if c.benchCmd == "" {
		return Config{}, fmt.Errorf(
			"bench command is required: set --bench-cmd or BENCH_CMD",
		)
	}

	format, err := report.ParseFormat(c.format)
	if err != nil {
		return Config{}, err
	}

	paramSets := workload.SplitList(c.paramSets)
	if len(paramSets) == 0 {
		return Config{}, fmt.Errorf(
			"parameter set list is empty: set --param-sets or PARAM_SETS",
		)
	}

	msgSizes, err := workload.ParseSizes(c.msgSizes)
	if err != nil {
		return Config{}, err
	}

	if len(msgSizes) == 0 {
		return Config{}, fmt.Errorf(
			"message size list is empty: set --msg-sizes or MSG_SIZES",
		)
	}

	operations := workload.SplitList(c.operations)
	if len(operations) == 0 {
		return Config{}, fmt.Errorf(
			"operation list is empty: set --operations or OPERATIONS",
		)
	}

	return Config{
		BenchCmd:        c.benchCmd,
		OutDir:          c.outDir,
		Format:          format,
		ParamSets:       paramSets,
		MsgSizes:        msgSizes,
		Operations:      operations,
		Iterations:      c.iterations,
		WarmupRuns:      c.warmupRuns,
		Runs:            c.runs,
		AlgName:         c.algName,
		LibName:         c.libName,
		LibCommit:       c.libCommit,
		RNGSource:       c.rngSource,
		CompilerName:    c.compilerName,
		CompilerVersion: c.compilerVersion,
		CompilerFlags:   c.compilerFlags,
		TurboState:      c.turboState,
		RunID:           c.runID,
		PrintSummary:    c.printSummary,
	}, nil
}

func setString(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setUint(dst, src *uint64) {
	if src != nil {
		*dst = *src
	}
}

func joinSizes(sizes []uint64) string {
	items := make([]string, 0, len(sizes))
	for _, s := range sizes {
		items = append(items, strconv.FormatUint(s, 10))
	}

	return strings.Join(items, ",")
}

// defaultOutDir places results next to the harness binary so repeated runs
// of an installed tool land in one place regardless of working directory.
func defaultOutDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "results"
	}

	return filepath.Join(filepath.Dir(exe), "results")
}
