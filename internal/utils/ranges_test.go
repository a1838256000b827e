package utils

import (
	"reflect"
	"testing"
)

func TestExpandIndices(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []int
	}{
		{"single", "4", []int{4}},
		{"range", "1-3", []int{1, 2, 3}},
		{"mixed", "1-3,5", []int{1, 2, 3, 5}},
		{"multiple_ranges", "1-2,10-12", []int{1, 2, 10, 11, 12}},
		{"spaces", "1, 3", []int{1, 3}},
		{"degenerate_range", "7-7", []int{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandIndices(tt.expr)
			if err != nil {
				t.Fatalf("ExpandIndices(%q) returned error: %v", tt.expr, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandIndices(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestExpandIndicesErrors(t *testing.T) {
	exprs := []string{"", "a", "1-", "-3", "1-b", "3-1", "1,,2"}
	for _, expr := range exprs {
		if _, err := ExpandIndices(expr); err == nil {
			t.Errorf("ExpandIndices(%q) expected error, got nil", expr)
		}
	}
}
