// Package wellknown carries the registry of numbered interface families that
// range expressions in topology patterns may expand over.
package wellknown

import (
	"bytes"
	"encoding/csv"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"ztp-topology-engine/internal/utils"
)

//go:embed interface_families.csv
var interfaceFamiliesData string

// familyRegistry maps every known family name and alias to itself; keys are
// tried longest-first so "Port-Channel" wins over any shorter prefix.
var (
	familyRegistry map[string]bool
	familyNames    []string
)

func init() {
	familyRegistry = make(map[string]bool)
	reader := csv.NewReader(bytes.NewBufferString(interfaceFamiliesData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded interface_families.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded interface_families.csv: %v", err)
		}
		if len(record) < 2 {
			continue
		}

		name := strings.TrimSpace(record[0])
		if name != "" {
			familyRegistry[name] = true
		}
		for _, alias := range strings.Split(record[1], ";") {
			alias = strings.TrimSpace(alias)
			if alias != "" {
				familyRegistry[alias] = true
			}
		}
	}

	for name := range familyRegistry {
		familyNames = append(familyNames, name)
	}
	sort.Slice(familyNames, func(i, j int) bool {
		return len(familyNames[i]) > len(familyNames[j])
	})
}

// IsFamily reports whether name is a registered interface family or alias.
func IsFamily(name string) bool {
	return familyRegistry[name]
}

// SplitFamily splits an interface specifier into its family prefix and index
// expression. It returns ok=false when the specifier does not start with a
// known family followed by a digit.
func SplitFamily(spec string) (family, indices string, ok bool) {
	for _, name := range familyNames {
		rest, found := strings.CutPrefix(spec, name)
		if !found || rest == "" {
			continue
		}
		if rest[0] >= '0' && rest[0] <= '9' {
			return name, rest, true
		}
	}
	return "", "", false
}

// ExpandRange expands an interface range expression such as "Ethernet1-3,5"
// into ["Ethernet1" "Ethernet2" "Ethernet3" "Ethernet5"]. Specifiers that do
// not name a numbered family, or whose tail is not an index expression at
// all, such as the slashed subinterface "Ethernet49/1", expand to themselves;
// the empty specifier expands to nothing.
func ExpandRange(spec string) ([]string, error) {
	if spec == "" {
		return nil, nil
	}
	family, expr, ok := SplitFamily(spec)
	if !ok || !indexExpression(expr) {
		return []string{spec}, nil
	}
	indices, err := utils.ExpandIndices(expr)
	if err != nil {
		return nil, err
	}
	interfaces := make([]string, 0, len(indices))
	for _, idx := range indices {
		interfaces = append(interfaces, family+strconv.Itoa(idx))
	}
	return interfaces, nil
}

// indexExpression reports whether expr uses only the characters a range
// expression may contain. A tail with anything else names a single concrete
// interface, not a range.
func indexExpression(expr string) bool {
	for _, r := range expr {
		switch {
		case r >= '0' && r <= '9':
		case r == ',' || r == '-' || r == ' ':
		default:
			return false
		}
	}
	return true
}
