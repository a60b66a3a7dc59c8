package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// summaryKey groups rows that measured the same workload cell.
type summaryKey struct {
	Operation   string
	ParamSet    string
	MessageSize uint64
}

type summaryGroup struct {
	count         int
	sumAvgNS      float64
	sumThroughput float64
}

// Summarize reads a tabular output file and prints per-cell means. Columns
// are located by header name, so files written by other invocations (or
// with reordered columns) work.
func Summarize(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open summary input: %w", err)
	}
	defer f.Close()

	if err := summarize(f, w); err != nil {
		return fmt.Errorf("summarize %s: %w", path, err)
	}

	return nil
}

func summarize(r io.Reader, w io.Writer) error {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	for _, name := range []string{
		"operation", "parameter_set", "message_size",
		"avg_ns", "throughput_ops_per_s",
	} {
		if _, ok := col[name]; !ok {
			return fmt.Errorf("input is missing column %q", name)
		}
	}

	groups := make(map[summaryKey]*summaryGroup)

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read csv row: %w", err)
		}

		size, err := strconv.ParseUint(row[col["message_size"]], 10, 64)
		if err != nil {
			return fmt.Errorf("parse message_size: %w", err)
		}

		avg, err := strconv.ParseFloat(row[col["avg_ns"]], 64)
		if err != nil {
			return fmt.Errorf("parse avg_ns: %w", err)
		}

		tput, err := strconv.ParseFloat(row[col["throughput_ops_per_s"]], 64)
		if err != nil {
			return fmt.Errorf("parse throughput_ops_per_s: %w", err)
		}

		key := summaryKey{
			Operation:   row[col["operation"]],
			ParamSet:    row[col["parameter_set"]],
			MessageSize: size,
		}

		g, ok := groups[key]
		if !ok {
			g = &summaryGroup{}
			groups[key] = g
		}

		g.count++
		g.sumAvgNS += avg
		g.sumThroughput += tput
	}

	if len(groups) == 0 {
		return fmt.Errorf("input has no measurement rows")
	}

	keys := make([]summaryKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}

		if a.ParamSet != b.ParamSet {
			return a.ParamSet < b.ParamSet
		}

		return a.MessageSize < b.MessageSize
	})

	fmt.Fprintf(w, "%-10s %-24s %12s %6s %16s %20s\n",
		"operation", "parameter_set", "message_size", "runs",
		"mean_avg_ns", "mean_throughput")

	for _, key := range keys {
		g := groups[key]
		fmt.Fprintf(w, "%-10s %-24s %12d %6d %16.1f %20.3f\n",
			key.Operation, key.ParamSet, key.MessageSize, g.count,
			g.sumAvgNS/float64(g.count),
			g.sumThroughput/float64(g.count),
		)
	}

	return nil
}
