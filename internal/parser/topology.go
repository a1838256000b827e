// Package parser decodes the documents the engine consumes: the topology
// pattern catalog and device provisioning reports.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ztp-topology-engine/internal/engine"
)

// ErrLoadFailure covers unreadable or undecodable documents. Decode detail
// is logged at debug level, not surfaced.
var ErrLoadFailure = errors.New("unable to load document")

// DefaultTopologyFilename is the topology document name looked for under a
// data directory when no explicit path is given.
const DefaultTopologyFilename = "neighbordb"

var validate = validator.New()

type topologyDocument struct {
	Variables map[string]string `yaml:"variables"`
	Patterns  []patternDocument `yaml:"patterns"`
}

type patternDocument struct {
	Name       string                 `yaml:"name" validate:"required"`
	Definition string                 `yaml:"definition" validate:"required"`
	Node       string                 `yaml:"node"`
	Variables  map[string]string      `yaml:"variables"`
	Interfaces []map[string]yaml.Node `yaml:"interfaces"`
}

// interfaceSpec is the mapping form of an interface entry. Device and Port
// are pointers so an omitted port is distinguishable from an empty one.
type interfaceSpec struct {
	Device *string  `yaml:"device"`
	Port   *string  `yaml:"port"`
	Tags   []string `yaml:"tags"`
}

// LoadTopologyFile reads and parses a topology document from disk.
func LoadTopologyFile(path string) (*engine.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("Unable to read topology file", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrLoadFailure, path)
	}
	return ParseTopology(data)
}

// ParseTopology builds a pattern catalog from a topology document. A
// structurally invalid pattern entry is skipped with a diagnostic; the rest
// of the catalog still loads. Only an undecodable document is an error.
func ParseTopology(data []byte) (*engine.Topology, error) {
	var doc topologyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Debug("Unable to decode topology document", "error", err)
		return nil, fmt.Errorf("%w: topology document", ErrLoadFailure)
	}

	topo := engine.NewTopology()
	topo.SetVariables(validVariables(doc.Variables))

	for _, entry := range doc.Patterns {
		pattern, err := buildPattern(entry)
		if err != nil {
			slog.Warn("Skipping malformed pattern entry", "name", entry.Name, "error", err)
			continue
		}
		topo.AddPattern(pattern)
	}
	return topo, nil
}

// validVariables drops variable values that carry call syntax naming an
// unknown matching function, so bad substitutions fail at load rather than
// inside a match.
func validVariables(variables map[string]string) map[string]string {
	out := make(map[string]string, len(variables))
	for name, value := range variables {
		if _, _, err := engine.ParseMatchCall(value); err != nil {
			slog.Warn("Dropping variable with invalid value", "name", name, "error", err)
			continue
		}
		out[name] = value
	}
	return out
}

func buildPattern(entry patternDocument) (*engine.Pattern, error) {
	if err := validate.Struct(entry); err != nil {
		return nil, fmt.Errorf("invalid pattern entry: %w", err)
	}

	pattern := &engine.Pattern{
		Name:       entry.Name,
		Definition: entry.Definition,
		Node:       entry.Node,
		Variables:  validVariables(entry.Variables),
	}

	for _, item := range entry.Interfaces {
		if len(item) != 1 {
			return nil, fmt.Errorf("interface entry must have exactly one key, got %d", len(item))
		}
		for intf, value := range item {
			device, port, tags, err := parseInterfaceValue(value)
			if err != nil {
				return nil, fmt.Errorf("interface %q: %w", intf, err)
			}
			if err := pattern.AddInterface(intf, device, port, tags); err != nil {
				return nil, err
			}
		}
	}
	return pattern, nil
}

// parseInterfaceValue decodes the device/port/tag side of an interface
// entry: the literal strings "any"/"none", the compact "device:port" or
// "device:port:tags" form, or a mapping with device/port/tags keys.
func parseInterfaceValue(value yaml.Node) (device, port *string, tags []string, err error) {
	switch value.Kind {
	case yaml.ScalarNode:
		return parseCompactSpec(value.Value)
	case yaml.MappingNode:
		var spec interfaceSpec
		if err := value.Decode(&spec); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid interface spec: %w", err)
		}
		if spec.Device == nil {
			return nil, nil, nil, errors.New("interface spec missing device")
		}
		switch *spec.Device {
		case engine.Any:
			return strptr(engine.Any), strptr(engine.Any), nil, nil
		case engine.NoneSpec:
			return nil, nil, nil, nil
		}
		return spec.Device, spec.Port, spec.Tags, nil
	}
	return nil, nil, nil, errors.New("interface spec must be a string or mapping")
}

func parseCompactSpec(spec string) (device, port *string, tags []string, err error) {
	switch spec {
	case engine.Any:
		return strptr(engine.Any), strptr(engine.Any), nil, nil
	case engine.NoneSpec:
		return nil, nil, nil, nil
	}
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return nil, nil, nil, fmt.Errorf("malformed interface spec %q", spec)
	}
	device, port = strptr(parts[0]), strptr(parts[1])
	if len(parts) == 3 {
		for _, tag := range strings.Split(parts[2], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return device, port, tags, nil
}

func strptr(s string) *string {
	return &s
}

// ReloadStore parses the topology document at path and publishes it to the
// store. On failure the store keeps its current snapshot.
func ReloadStore(store *engine.Store, path string) error {
	topo, err := LoadTopologyFile(path)
	if err != nil {
		return err
	}
	store.Publish(topo)
	slog.Info("Published topology snapshot", "path", path,
		"globals", len(topo.Globals()), "node_patterns", topo.NodePatternCount())
	return nil
}

// SerializeTopology renders a catalog back to document form.
func SerializeTopology(topo *engine.Topology) ([]byte, error) {
	patterns := make([]map[string]any, 0, len(topo.Globals())+topo.NodePatternCount())
	for _, p := range topo.AllPatterns() {
		patterns = append(patterns, p.Serialize())
	}
	doc := map[string]any{
		"variables": topo.Variables(),
		"patterns":  patterns,
	}
	return yaml.Marshal(doc)
}
