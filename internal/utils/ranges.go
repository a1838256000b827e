package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandIndices expands an index expression such as "1-3,5" into the ordered
// list [1 2 3 5]. Single indices and ranges may be mixed freely.
func ExpandIndices(expr string) ([]int, error) {
	var indices []int
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if start, stop, ok := strings.Cut(part, "-"); ok {
			lo, err := strconv.Atoi(start)
			if err != nil {
				return nil, fmt.Errorf("invalid range start %q in %q", start, expr)
			}
			hi, err := strconv.Atoi(stop)
			if err != nil {
				return nil, fmt.Errorf("invalid range end %q in %q", stop, expr)
			}
			if hi < lo {
				return nil, fmt.Errorf("descending range %q in %q", part, expr)
			}
			for i := lo; i <= hi; i++ {
				indices = append(indices, i)
			}
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q in %q", part, expr)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
