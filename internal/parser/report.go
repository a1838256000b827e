package parser

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"ztp-topology-engine/internal/model"
)

// reportDocument mirrors the provisioning report a booting device posts.
// Neighbors stays a raw node so interface ordering survives decoding; a
// plain map would scramble it.
type reportDocument struct {
	Model        string    `yaml:"model"`
	SystemMAC    string    `yaml:"systemmac"`
	SerialNumber string    `yaml:"serialnumber"`
	Version      string    `yaml:"version"`
	Neighbors    yaml.Node `yaml:"neighbors"`
}

// LoadReportFile reads and parses a device report from disk.
func LoadReportFile(path string) (*model.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("Unable to read report file", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrLoadFailure, path)
	}
	return ParseReport(data)
}

// ParseReport builds a Node from a device report. Reports are YAML or JSON;
// JSON decodes through the same path since it is a YAML subset, which also
// keeps the reported interface order.
func ParseReport(data []byte) (*model.Node, error) {
	var doc reportDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Debug("Unable to decode device report", "error", err)
		return nil, fmt.Errorf("%w: device report", ErrLoadFailure)
	}

	node := model.NewNode(doc.Model, doc.SystemMAC, doc.SerialNumber, doc.Version)

	if doc.Neighbors.Kind == 0 || doc.Neighbors.Tag == "!!null" {
		return node, nil
	}
	if doc.Neighbors.Kind != yaml.MappingNode {
		slog.Debug("Device report neighbors is not a mapping")
		return nil, fmt.Errorf("%w: device report", ErrLoadFailure)
	}

	for i := 0; i < len(doc.Neighbors.Content)-1; i += 2 {
		intfNode, listNode := doc.Neighbors.Content[i], doc.Neighbors.Content[i+1]
		var neighbors []model.Neighbor
		if err := listNode.Decode(&neighbors); err != nil {
			slog.Debug("Unable to decode neighbor list", "interface", intfNode.Value, "error", err)
			return nil, fmt.Errorf("%w: device report", ErrLoadFailure)
		}
		node.Neighbors.Add(intfNode.Value, neighbors...)
	}

	slog.Debug("Created node from report", "systemmac", node.SystemMAC, "interfaces", node.Neighbors.Len())
	return node, nil
}
