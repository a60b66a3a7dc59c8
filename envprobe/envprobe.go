// Package envprobe captures a best-effort snapshot of the host environment
// for benchmark provenance. Every fact resolves through an ordered chain of
// probe sources; when the chain is exhausted the fact degrades to the
// "unknown" sentinel. Probing never fails the caller and performs only
// read-only host queries.
package envprobe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Unknown is the sentinel recorded when no probe source yields a value.
const Unknown = "unknown"

// MemSize is a RAM size that may be unknown. Known values serialize as
// bare JSON numbers, unknown ones as the quoted "unknown" string, so
// consumers never see a null or a type switch on absence.
type MemSize struct {
	Bytes uint64
	Known bool
}

func (m MemSize) String() string {
	if !m.Known {
		return Unknown
	}

	return strconv.FormatUint(m.Bytes, 10)
}

// MarshalJSON emits a number for known sizes and "unknown" otherwise.
func (m MemSize) MarshalJSON() ([]byte, error) {
	if !m.Known {
		return []byte(`"` + Unknown + `"`), nil
	}

	return []byte(strconv.FormatUint(m.Bytes, 10)), nil
}

// UnmarshalJSON accepts either form so snapshots round-trip.
func (m *MemSize) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if strings.HasPrefix(s, `"`) {
		*m = MemSize{}

		return nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("memory size %s: %w", s, err)
	}

	*m = MemSize{Bytes: n, Known: true}

	return nil
}

// Snapshot is the immutable environment record shared by every measurement
// of a run. Fields that could not be determined hold Unknown.
type Snapshot struct {
	CPUModel        string  `json:"cpu_model"`
	CPUMicrocode    string  `json:"cpu_microcode"`
	RAMBytes        MemSize `json:"ram_bytes"`
	OSKernel        string  `json:"os_kernel"`
	CompilerName    string  `json:"compiler_name"`
	CompilerVersion string  `json:"compiler_version"`
	CompilerFlags   string  `json:"compiler_flags"`
	TurboState      string  `json:"turbo_state"`
	WorkspaceCommit string  `json:"workspace_commit"`
}

// Overrides carries caller-supplied values that short-circuit probing.
// CompilerFlags has no probe source; without an override it degrades
// straight to Unknown.
type Overrides struct {
	CompilerName    string
	CompilerVersion string
	CompilerFlags   string
	TurboState      string
	WorkDir         string
}

// Collect probes the host once. It never returns an error; missing facts
// degrade to Unknown.
func Collect(ctx context.Context, logger *slog.Logger, ov Overrides) Snapshot {
	p := prober{ctx: ctx, logger: logger}

	compilerName := ov.CompilerName
	if compilerName == "" {
		compilerName = "compiler"
	}

	return Snapshot{
		CPUModel: p.first("cpu_model",
			p.cpuinfoField("model name"),
			p.sysctl("machdep.cpu.brand_string"),
		),
		CPUMicrocode: p.first("cpu_microcode",
			p.cpuinfoField("microcode"),
			p.sysctl("machdep.cpu.microcode_version"),
		),
		RAMBytes: p.ramBytes(),
		OSKernel: p.first("os_kernel",
			p.fileFirstLine("/proc/version"),
			p.execFirstLine("uname", "-a"),
		),
		CompilerName: compilerName,
		CompilerVersion: p.first("compiler_version",
			p.literal(ov.CompilerVersion),
			p.execFirstLine(compilerName, "--version"),
		),
		CompilerFlags: p.first("compiler_flags",
			p.literal(ov.CompilerFlags),
		),
		TurboState: p.first("turbo_state",
			p.literal(ov.TurboState),
			// 1 in no_turbo means turbo is disabled; boost is the
			// opposite polarity.
			p.flagFile(
				"/sys/devices/system/cpu/intel_pstate/no_turbo",
				"off", "on",
			),
			p.flagFile(
				"/sys/devices/system/cpu/cpufreq/boost",
				"on", "off",
			),
		),
		WorkspaceCommit: p.first("workspace_commit",
			p.gitShortRev(ov.WorkDir),
		),
	}
}

type prober struct {
	ctx    context.Context
	logger *slog.Logger
}

// probe is one source for a fact. ok reports whether it yielded a value.
type probe func() (string, bool)

// first runs probes in order and returns the first hit, or Unknown.
func (p prober) first(fact string, probes ...probe) string {
	for _, pr := range probes {
		if v, ok := pr(); ok {
			return v
		}
	}

	p.logger.Debug("probe chain exhausted", slog.String("fact", fact))

	return Unknown
}

func (p prober) literal(v string) probe {
	return func() (string, bool) {
		return v, v != ""
	}
}

func (p prober) cpuinfoField(field string) probe {
	return func() (string, bool) {
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", false
		}

		return parseCPUInfoField(data, field)
	}
}

func (p prober) fileFirstLine(path string) probe {
	return func() (string, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", false
		}

		line := firstLine(string(data))

		return line, line != ""
	}
}

func (p prober) execFirstLine(name string, args ...string) probe {
	return func() (string, bool) {
		out, err := exec.CommandContext(p.ctx, name, args...).Output()
		if err != nil {
			return "", false
		}

		line := firstLine(string(out))

		return line, line != ""
	}
}

func (p prober) sysctl(key string) probe {
	return p.execFirstLine("sysctl", "-n", key)
}

// flagFile reads a 0/1 sysfs flag and maps it to a state string.
func (p prober) flagFile(path, whenSet, whenClear string) probe {
	return func() (string, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", false
		}

		switch strings.TrimSpace(string(data)) {
		case "1":
			return whenSet, true
		case "0":
			return whenClear, true
		default:
			return "", false
		}
	}
}

func (p prober) gitShortRev(dir string) probe {
	return func() (string, bool) {
		cmd := exec.CommandContext(p.ctx, "git", "rev-parse", "--short", "HEAD")
		if dir != "" {
			cmd.Dir = dir
		}

		out, err := cmd.Output()
		if err != nil {
			return "", false
		}

		rev := strings.TrimSpace(string(out))

		return rev, rev != ""
	}
}

// ramBytes keeps the numeric form only when a source yields a valid
// non-negative integer; anything else stays Unknown.
func (p prober) ramBytes() MemSize {
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		if v, ok := parseMemTotal(data); ok {
			return MemSize{Bytes: v, Known: true}
		}
	}

	out, err := exec.CommandContext(p.ctx, "sysctl", "-n", "hw.memsize").Output()
	if err == nil {
		v, err := strconv.ParseUint(firstLine(string(out)), 10, 64)
		if err == nil {
			return MemSize{Bytes: v, Known: true}
		}
	}

	p.logger.Debug("probe chain exhausted", slog.String("fact", "ram_bytes"))

	return MemSize{}
}

// parseCPUInfoField finds the first "<field> : <value>" line.
func parseCPUInfoField(data []byte, field string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}

		if strings.TrimSpace(key) == field {
			value = strings.TrimSpace(value)

			return value, value != ""
		}
	}

	return "", false
}

// parseMemTotal reads the MemTotal line, which reports kilobytes, and
// converts to bytes.
func parseMemTotal(data []byte) (uint64, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}

		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}

		return kb * 1024, true
	}

	return 0, false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")

	return strings.TrimSpace(line)
}
