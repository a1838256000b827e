package engine

import (
	"log/slog"
	"sort"
	"sync/atomic"

	"ztp-topology-engine/internal/model"
)

// Topology is the pattern catalog: device-agnostic patterns in priority
// order plus patterns bound to a single device identity, with the
// topology-wide variable map. A Topology is mutable while it is being built
// and must be treated as immutable once published to matchers.
type Topology struct {
	variables map[string]string
	globals   []*Pattern
	nodes     map[string]*Pattern
}

func NewTopology() *Topology {
	return &Topology{
		variables: make(map[string]string),
		nodes:     make(map[string]*Pattern),
	}
}

// SetVariables installs the topology-wide variable map. The reserved words
// "any" and "none" cannot be used as variable names and are dropped with a
// diagnostic.
func (t *Topology) SetVariables(variables map[string]string) {
	t.variables = make(map[string]string, len(variables))
	for name, value := range variables {
		if name == Any || name == NoneSpec {
			slog.Debug("Cannot assign value to reserved word", "name", name)
			continue
		}
		t.variables[name] = value
	}
}

// Variables returns the topology-wide variable map. Callers must not
// mutate it.
func (t *Topology) Variables() map[string]string {
	return t.variables
}

// AddPattern registers a pattern, substituting topology-level variables into
// each interface device specifier. A pattern with a node binding replaces
// any earlier pattern bound to the same identity; unbound patterns append to
// the global list in registration order.
func (t *Topology) AddPattern(p *Pattern) {
	for _, ip := range p.Interfaces {
		if ip.Device == nil || *ip.Device == Any {
			continue
		}
		if value, ok := t.variables[*ip.Device]; ok {
			ip.Device = &value
		}
	}

	if p.Node != "" {
		t.nodes[p.Node] = p
		return
	}
	t.globals = append(t.globals, p)
}

// Globals returns the device-agnostic patterns in priority order.
func (t *Topology) Globals() []*Pattern {
	return t.globals
}

// NodePatternCount returns the number of device-bound patterns.
func (t *Topology) NodePatternCount() int {
	return len(t.nodes)
}

// AllPatterns returns every registered pattern: globals in priority order,
// then node-bound patterns sorted by identity.
func (t *Topology) AllPatterns() []*Pattern {
	patterns := make([]*Pattern, 0, len(t.globals)+len(t.nodes))
	patterns = append(patterns, t.globals...)
	identities := make([]string, 0, len(t.nodes))
	for identity := range t.nodes {
		identities = append(identities, identity)
	}
	sort.Strings(identities)
	for _, identity := range identities {
		patterns = append(patterns, t.nodes[identity])
	}
	return patterns
}

// PatternsFor narrows the catalog for one node. A pattern bound to the
// node's identity is exclusive: global patterns are not considered once a
// direct binding exists.
func (t *Topology) PatternsFor(node *model.Node) []*Pattern {
	if bound, ok := t.nodes[node.SystemMAC]; ok {
		slog.Debug("Returning node-bound pattern", "pattern", bound.Name, "systemmac", node.SystemMAC)
		return []*Pattern{bound}
	}
	slog.Debug("Returning global patterns", "systemmac", node.SystemMAC, "count", len(t.globals))
	return t.globals
}

// MatchNode evaluates every candidate pattern for the node and returns all
// that are satisfied, in evaluation order. An empty result is a valid
// outcome, not an error; the caller decides what no match means.
func (t *Topology) MatchNode(node *model.Node) []*Pattern {
	var matches []*Pattern
	for _, pattern := range t.PatternsFor(node) {
		slog.Debug("Attempting to match pattern", "pattern", pattern.Name)
		if pattern.MatchNode(node, t.variables) {
			slog.Debug("Pattern matched", "pattern", pattern.Name)
			matches = append(matches, pattern)
		} else {
			slog.Debug("Pattern did not match", "pattern", pattern.Name)
		}
	}
	return matches
}

// Store publishes immutable Topology snapshots to concurrent matchers.
// Reload replaces the whole catalog at once; readers always observe either
// the fully-old or fully-new topology.
type Store struct {
	current atomic.Pointer[Topology]
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(NewTopology())
	return s
}

// Topology returns the currently published snapshot.
func (s *Store) Topology() *Topology {
	return s.current.Load()
}

// Publish atomically swaps in a new snapshot. The topology must not be
// mutated after it is published.
func (s *Store) Publish(t *Topology) {
	s.current.Store(t)
}
