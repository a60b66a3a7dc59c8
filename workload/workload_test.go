package workload

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain", "keygen,sign,verify", []string{"keygen", "sign", "verify"}},
		{"whitespace trimmed", " keygen , sign ,verify ", []string{"keygen", "sign", "verify"}},
		{"empty items dropped", "a,,b,", []string{"a", "b"}},
		{"single item", "keygen", []string{"keygen"}},
		{"empty string", "", nil},
		{"only separators", " , ,", nil},
		{"duplicates kept", "a,a", []string{"a", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitList(tt.raw)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("SplitList(%q) mismatch (-want +got):\n%s",
					tt.raw, diff)
			}
		})
	}
}

func TestParseSizes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []uint64
	}{
		{"defaults", "32,256,1024,4096", []uint64{32, 256, 1024, 4096}},
		{"whitespace", " 32 , 64 ", []uint64{32, 64}},
		{"zero allowed", "0", []uint64{0}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSizes(tt.raw)
			if err != nil {
				t.Fatalf("ParseSizes(%q) failed: %v", tt.raw, err)
			}

			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ParseSizes(%q) mismatch (-want +got):\n%s",
					tt.raw, diff)
			}
		})
	}
}

func TestParseSizesRejectsNonIntegers(t *testing.T) {
	tests := []struct {
		raw     string
		badItem string
	}{
		{"32,abc,64", "abc"},
		{"-1", "-1"},
		{"1.5", "1.5"},
		{"+5", "+5"},
		{"0x20", "0x20"},
		{"1_000", "1_000"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseSizes(tt.raw)
			if err == nil {
				t.Fatalf("ParseSizes(%q) succeeded, want error", tt.raw)
			}

			if !strings.Contains(err.Error(), tt.badItem) {
				t.Errorf("error %q does not name bad item %q",
					err, tt.badItem)
			}
		})
	}
}

func TestEnumerateOrder(t *testing.T) {
	cells, err := Enumerate(
		[]string{"A", "B"},
		[]uint64{32, 64},
		[]string{"keygen", "sign"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	want := []Cell{
		{"A", 32, "keygen"},
		{"A", 32, "sign"},
		{"A", 64, "keygen"},
		{"A", 64, "sign"},
		{"B", 32, "keygen"},
		{"B", 32, "sign"},
		{"B", 64, "keygen"},
		{"B", 64, "sign"},
	}

	if diff := cmp.Diff(want, cells); diff != "" {
		t.Errorf("cell order mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateEmptyLists(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		sizes  []uint64
		ops    []string
	}{
		{"no param sets", nil, []uint64{32}, []string{"sign"}},
		{"no sizes", []string{"A"}, nil, []string{"sign"}},
		{"no operations", []string{"A"}, []uint64{32}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Enumerate(tt.params, tt.sizes, tt.ops)
			if err == nil {
				t.Error("expected error for empty list")
			}
		})
	}
}

func TestEnumerateKeepsDuplicates(t *testing.T) {
	cells, err := Enumerate(
		[]string{"A", "A"},
		[]uint64{32},
		[]string{"sign"},
	)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	if len(cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(cells))
	}

	if cells[0] != cells[1] {
		t.Errorf("duplicate input produced distinct cells: %+v vs %+v",
			cells[0], cells[1])
	}
}
