package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ztp-topology-engine/internal/engine"
	"ztp-topology-engine/internal/journal"
	"ztp-topology-engine/internal/metrics"
	"ztp-topology-engine/internal/model"
	"ztp-topology-engine/internal/parser"
	"ztp-topology-engine/internal/resources"
)

var (
	topologyFile string
	reportFile   string
	attrsFile    string
	dataDir      string
	poolName     string
	systemMAC    string
	journalDSN   string
	metricsFile  string
	logLevel     string
	logFile      string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ztpengine",
		Short: "Zero-touch provisioning decision engine",
		Long: `ztpengine matches booting network devices against operator-authored
	topology patterns and allocates per-node resources from persistent pools.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(setupLogger(logLevel, logFile))
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")

	rootCmd.AddCommand(newValidateCmd(), newMatchCmd(), newResolveCmd(), newPoolCmd(), newHistoryCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a topology document and report what it contains",
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := parser.LoadTopologyFile(topologyFile)
			if err != nil {
				slog.Error("Failed to load topology", "path", topologyFile, "error", err)
				return err
			}
			fmt.Printf("topology: %s\n", topologyFile)
			fmt.Printf("variables: %d\n", len(topo.Variables()))
			fmt.Printf("global patterns: %d\n", len(topo.Globals()))
			fmt.Printf("node patterns: %d\n", topo.NodePatternCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&topologyFile, "topology", "", "Topology document (required)")
	cmd.MarkFlagRequired("topology")
	return cmd
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match a device report against the topology",
		RunE:  runMatch,
	}
	cmd.Flags().StringVar(&topologyFile, "topology", "", "Topology document (required)")
	cmd.Flags().StringVar(&reportFile, "report", "", "Device report file (required)")
	cmd.Flags().StringVar(&journalDSN, "journal-dsn", "", "MariaDB DSN for the provisioning journal (use parseTime=true)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write metrics in text exposition format for a textfile collector")
	cmd.MarkFlagRequired("topology")
	cmd.MarkFlagRequired("report")
	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	startTime := time.Now()
	reg := metrics.NewRegistry()

	store := engine.NewStore()
	if err := parser.ReloadStore(store, topologyFile); err != nil {
		reg.RecordTopologyLoad("error")
		slog.Error("Failed to load topology", "path", topologyFile, "error", err)
		return err
	}
	reg.RecordTopologyLoad("ok")

	node, err := parser.LoadReportFile(reportFile)
	if err != nil {
		slog.Error("Failed to load device report", "path", reportFile, "error", err)
		return err
	}
	slog.Info("Matching node", "systemmac", node.SystemMAC, "interfaces", node.Neighbors.Len())

	candidates := store.Topology().PatternsFor(node)
	matches := store.Topology().MatchNode(node)
	outcome := "matched"
	if len(matches) == 0 {
		outcome = "unmatched"
	}
	reg.RecordMatch(outcome, len(candidates))

	if journalDSN != "" && len(matches) > 0 {
		if err := journalMatches(node, matches); err != nil {
			slog.Error("Failed to journal matches", "error", err)
			return err
		}
	}

	type matchResult struct {
		Name       string `yaml:"name"`
		Definition string `yaml:"definition"`
	}
	results := make([]matchResult, 0, len(matches))
	for _, p := range matches {
		results = append(results, matchResult{Name: p.Name, Definition: p.Definition})
	}
	out, err := yaml.Marshal(map[string]any{
		"systemmac": node.SystemMAC,
		"matches":   results,
	})
	if err != nil {
		return err
	}
	os.Stdout.Write(out)

	if metricsFile != "" {
		if err := writeMetrics(reg, metricsFile); err != nil {
			slog.Warn("Failed to write metrics file", "path", metricsFile, "error", err)
		}
	}

	slog.Info("Match complete", "outcome", outcome, "matches", len(matches), "duration", time.Since(startTime))
	return nil
}

// writeMetrics dumps the registry in the prometheus text exposition format,
// suitable for the node_exporter textfile collector.
func writeMetrics(reg *metrics.Registry, path string) error {
	families, err := reg.Gatherer().Gather()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func journalMatches(node *model.Node, matches []*engine.Pattern) error {
	store, err := journal.Open(journalDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(); err != nil {
		return err
	}
	for _, pattern := range matches {
		id, err := store.RecordMatch(node, pattern)
		if err != nil {
			return err
		}
		slog.Debug("Journaled match", "entry_id", id, "pattern", pattern.Name)
	}
	return nil
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve resource allocations embedded in an attribute document",
		RunE:  runResolve,
	}
	cmd.Flags().StringVar(&attrsFile, "attributes", "", "Attribute document with allocate()/lookup() calls (required)")
	cmd.Flags().StringVar(&reportFile, "report", "", "Device report file (required)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding resource pool files (required)")
	cmd.Flags().StringVar(&journalDSN, "journal-dsn", "", "MariaDB DSN for the provisioning journal (use parseTime=true)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write metrics in text exposition format for a textfile collector")
	cmd.MarkFlagRequired("attributes")
	cmd.MarkFlagRequired("report")
	cmd.MarkFlagRequired("data-dir")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	node, err := parser.LoadReportFile(reportFile)
	if err != nil {
		slog.Error("Failed to load device report", "path", reportFile, "error", err)
		return err
	}

	data, err := os.ReadFile(attrsFile)
	if err != nil {
		slog.Error("Failed to read attribute document", "path", attrsFile, "error", err)
		return err
	}
	var attributes map[string]any
	if err := yaml.Unmarshal(data, &attributes); err != nil {
		slog.Error("Failed to decode attribute document", "path", attrsFile, "error", err)
		return err
	}

	reg := metrics.NewRegistry()
	allocator := &journalingAllocator{
		pools: resources.NewManager(dataDir).WithMetrics(reg),
	}
	if journalDSN != "" {
		store, err := journal.Open(journalDSN)
		if err != nil {
			slog.Error("Failed to open journal", "error", err)
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(); err != nil {
			return err
		}
		allocator.journal = store
	}

	resolved, err := engine.ResolveAttributes(attributes, node, allocator)
	if err != nil {
		slog.Error("Failed to resolve attributes", "error", err)
		return err
	}

	out, err := yaml.Marshal(resolved)
	if err != nil {
		return err
	}
	os.Stdout.Write(out)

	if metricsFile != "" {
		if err := writeMetrics(reg, metricsFile); err != nil {
			slog.Warn("Failed to write metrics file", "path", metricsFile, "error", err)
		}
	}
	return nil
}

// journalingAllocator records every fresh allocation in the journal. A
// journaling failure is logged, not surfaced; the device already holds the
// key at that point.
type journalingAllocator struct {
	pools   *resources.Manager
	journal *journal.Store
}

func (j *journalingAllocator) Allocate(pool string, node *model.Node) (string, error) {
	key, err := j.pools.Allocate(pool, node)
	if err != nil {
		return "", err
	}
	if j.journal != nil {
		if id, jerr := j.journal.RecordAllocation(node, pool, key); jerr != nil {
			slog.Warn("Failed to journal allocation", "pool", pool, "key", key, "error", jerr)
		} else {
			slog.Debug("Journaled allocation", "entry_id", id, "pool", pool, "key", key)
		}
	}
	return key, nil
}

func (j *journalingAllocator) Lookup(pool string, node *model.Node) (string, bool, error) {
	return j.pools.Lookup(pool, node)
}

func newPoolCmd() *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Operate on resource pools directly",
	}

	allocateCmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate (or return the existing) key for a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			pools := resources.NewManager(dataDir)
			node := model.NewNode("", systemMAC, "", "")
			key, err := pools.Allocate(poolName, node)
			if err != nil {
				slog.Error("Allocation failed", "pool", poolName, "error", err)
				return err
			}
			fmt.Println(key)
			return nil
		},
	}

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up the key a device currently holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			pools := resources.NewManager(dataDir)
			node := model.NewNode("", systemMAC, "", "")
			key, found, err := pools.Lookup(poolName, node)
			if err != nil {
				slog.Error("Lookup failed", "pool", poolName, "error", err)
				return err
			}
			if !found {
				return fmt.Errorf("no key allocated to %s in pool %s", node.SystemMAC, poolName)
			}
			fmt.Println(key)
			return nil
		},
	}

	for _, cmd := range []*cobra.Command{allocateCmd, lookupCmd} {
		cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding resource pool files (required)")
		cmd.Flags().StringVar(&poolName, "pool", "", "Pool name (required)")
		cmd.Flags().StringVar(&systemMAC, "systemmac", "", "Device system MAC (required)")
		cmd.MarkFlagRequired("data-dir")
		cmd.MarkFlagRequired("pool")
		cmd.MarkFlagRequired("systemmac")
		poolCmd.AddCommand(cmd)
	}
	return poolCmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled matches and allocations for a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := journal.Open(journalDSN)
			if err != nil {
				slog.Error("Failed to open journal", "error", err)
				return err
			}
			defer store.Close()

			matches, err := store.MatchHistory(systemMAC)
			if err != nil {
				return err
			}
			allocations, err := store.AllocationHistory(systemMAC)
			if err != nil {
				return err
			}

			for _, m := range matches {
				fmt.Printf("%s match %s -> %s\n", m.MatchedAt.Format(time.RFC3339), m.PatternName, m.Definition)
			}
			for _, a := range allocations {
				fmt.Printf("%s allocation %s -> %s\n", a.AllocatedAt.Format(time.RFC3339), a.Pool, a.Key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&journalDSN, "journal-dsn", "", "MariaDB DSN for the provisioning journal (required, use parseTime=true)")
	cmd.Flags().StringVar(&systemMAC, "systemmac", "", "Device system MAC (required)")
	cmd.MarkFlagRequired("journal-dsn")
	cmd.MarkFlagRequired("systemmac")
	return cmd
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// We don't log an error here because the logger isn't set up yet.
		// It will just fall back to stderr.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}
