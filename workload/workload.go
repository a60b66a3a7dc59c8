// Package workload expands the benchmark matrix configuration into the
// ordered list of cells to measure. A cell pairs one parameter set with one
// message size and one operation.
package workload

import (
	"fmt"
	"strconv"
	"strings"
)

// Cell is a single (parameter set, message size, operation) combination.
type Cell struct {
	ParamSet    string
	MessageSize uint64
	Operation   string
}

// SplitList splits a comma-separated list, trimming whitespace around each
// item and dropping empty items. Order is preserved and duplicates are
// kept; a repeated item produces a repeated cell.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		items = append(items, p)
	}

	return items
}

// ParseSizes splits a comma-separated size list and parses every item as a
// non-negative base-10 integer.
func ParseSizes(raw string) ([]uint64, error) {
	items := SplitList(raw)
	sizes := make([]uint64, 0, len(items))

	for _, item := range items {
		size, err := strconv.ParseUint(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf(
				"message size %q is not a non-negative integer", item,
			)
		}

		sizes = append(sizes, size)
	}

	return sizes, nil
}

// Enumerate builds the ordered cross-product of the three lists: parameter
// sets outermost, message sizes next, operations innermost. The order is a
// contract: run indices and the row/array positions in the output files
// follow it.
func Enumerate(
	paramSets []string,
	msgSizes []uint64,
	operations []string,
) ([]Cell, error) {
	if len(paramSets) == 0 {
		return nil, fmt.Errorf("parameter set list is empty")
	}

	if len(msgSizes) == 0 {
		return nil, fmt.Errorf("message size list is empty")
	}

	if len(operations) == 0 {
		return nil, fmt.Errorf("operation list is empty")
	}

	cells := make([]Cell, 0, len(paramSets)*len(msgSizes)*len(operations))

	for _, ps := range paramSets {
		for _, size := range msgSizes {
			for _, op := range operations {
				cells = append(cells, Cell{
					ParamSet:    ps,
					MessageSize: size,
					Operation:   op,
				})
			}
		}
	}

	return cells, nil
}
