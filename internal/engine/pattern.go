package engine

import (
	"fmt"
	"log/slog"

	"ztp-topology-engine/internal/model"
	"ztp-topology-engine/pkg/wellknown"
)

// Any is the wildcard specifier for interfaces, devices and ports.
const Any = "any"

// NoneSpec is the document form of an absent device requirement.
const NoneSpec = "none"

// VarEnv is the effective variable environment for one match call: the
// pattern layer consulted first, then the topology layer. It is built once
// per call and never mutated.
type VarEnv struct {
	layers []map[string]string
}

// NewVarEnv layers pattern variables over topology variables.
func NewVarEnv(pattern, topology map[string]string) *VarEnv {
	return &VarEnv{layers: []map[string]string{pattern, topology}}
}

func (e *VarEnv) Lookup(name string) (string, bool) {
	for _, layer := range e.layers {
		if layer == nil {
			continue
		}
		if value, ok := layer[name]; ok {
			return value, true
		}
	}
	return "", false
}

// InterfacePattern is one line of a Pattern: a local interface specifier
// (literal, family range, or the wildcard "any") plus the expected remote
// device and port. A nil Device means the interface must have no neighbor;
// a nil Port carries no port requirement of its own. Tags are informational
// and play no part in matching. Immutable once constructed, except for the
// device specifier rewrite the owning topology performs at registration.
type InterfacePattern struct {
	Interface string
	Device    *string
	Port      *string
	Tags      []string

	interfaces []string
	ports      []string
}

// NewInterfacePattern expands the interface and port ranges and validates
// any function-call syntax in the device specifier up front, so malformed
// entries fail at parse time rather than during matching.
func NewInterfacePattern(intf string, device, port *string, tags []string) (*InterfacePattern, error) {
	interfaces, err := expandSpec(intf)
	if err != nil {
		return nil, fmt.Errorf("interface specifier %q: %w", intf, err)
	}
	var ports []string
	if port != nil {
		if ports, err = expandSpec(*port); err != nil {
			return nil, fmt.Errorf("port specifier %q: %w", *port, err)
		}
	}
	if device != nil && *device != Any {
		if _, _, err := ParseMatchCall(*device); err != nil {
			return nil, fmt.Errorf("device specifier %q: %w", *device, err)
		}
	}
	return &InterfacePattern{
		Interface:  intf,
		Device:     device,
		Port:       port,
		Tags:       tags,
		interfaces: interfaces,
		ports:      ports,
	}, nil
}

func expandSpec(spec string) ([]string, error) {
	if spec == Any {
		return nil, nil
	}
	return wellknown.ExpandRange(spec)
}

func (p *InterfacePattern) String() string {
	device, port := NoneSpec, NoneSpec
	if p.Device != nil {
		device = *p.Device
	}
	if p.Port != nil {
		port = *p.Port
	}
	return fmt.Sprintf("InterfacePattern(interface=%s, device=%s, port=%s)", p.Interface, device, port)
}

// MatchNeighbors evaluates the pattern against the current working table.
// For an explicit range, every declared interface present in the table must
// record an accepting neighbor or the whole result is discarded; for the
// wildcard interface a single accepting interface suffices. At most one
// interface (the first matched) is returned for the caller to claim.
func (p *InterfacePattern) MatchNeighbors(working *model.NeighborTable, env *VarEnv) []string {
	var candidates []string
	if p.Interface == Any {
		candidates = working.Interfaces()
	} else {
		for _, name := range p.interfaces {
			if working.Has(name) {
				candidates = append(candidates, name)
			}
		}
	}

	var matched []string
	for _, intf := range candidates {
		for _, neighbor := range working.Get(intf) {
			if p.matchDevice(neighbor.Device, env) && p.matchPort(neighbor.Port) {
				matched = append(matched, intf)
				break
			}
		}
	}

	if p.Interface != Any && len(matched) != len(candidates) {
		return nil
	}
	if len(matched) == 0 {
		return nil
	}
	return matched[:1]
}

// matchDevice resolves the device specifier against the variable environment
// and applies its matching function to the observed device name. A nil
// specifier never accepts here; its absence semantics live one level up in
// Pattern.MatchNode.
func (p *InterfacePattern) matchDevice(device string, env *VarEnv) bool {
	if p.Device == nil {
		return false
	}
	if *p.Device == Any {
		return true
	}
	spec := *p.Device
	if resolved, ok := env.Lookup(spec); ok {
		spec = resolved
	}
	fn, arg, err := ParseMatchCall(spec)
	if err != nil {
		slog.Debug("Device specifier resolved to unknown matching function", "spec", spec, "error", err)
		return false
	}
	return fn.Match(arg, device)
}

func (p *InterfacePattern) matchPort(port string) bool {
	if (p.Port == nil && p.Device != nil && *p.Device == Any) ||
		(p.Port != nil && *p.Port == Any) {
		return true
	}
	if p.Port == nil {
		return false
	}
	for _, candidate := range p.ports {
		if candidate == port {
			return true
		}
	}
	return false
}

// Serialize renders the pattern back to its document form, normalizing an
// absent device requirement to the literal "none" with no port.
func (p *InterfacePattern) Serialize() map[string]any {
	doc := make(map[string]any)
	if p.Device == nil {
		doc["device"] = NoneSpec
	} else {
		doc["device"] = *p.Device
		if p.Port != nil {
			doc["port"] = *p.Port
		}
	}
	if len(p.Tags) > 0 {
		doc["tags"] = p.Tags
	}
	return doc
}

// Pattern is an operator-authored rule describing expected neighbor
// topology. Name is informational and need not be unique; Definition is an
// opaque reference to the configuration applied on match; Node, when set,
// binds the pattern to one device identity.
type Pattern struct {
	Name       string
	Definition string
	Node       string
	Variables  map[string]string
	Interfaces []*InterfacePattern
}

// AddInterface parses and appends one interface pattern, substituting
// pattern-level variables into the device specifier.
func (p *Pattern) AddInterface(intf string, device, port *string, tags []string) error {
	if device != nil && *device != Any {
		if value, ok := p.Variables[*device]; ok {
			device = &value
		}
	}
	ip, err := NewInterfacePattern(intf, device, port, tags)
	if err != nil {
		return err
	}
	p.Interfaces = append(p.Interfaces, ip)
	return nil
}

// MatchNode evaluates every interface pattern in declaration order against a
// working copy of the node's neighbor table, consuming each claimed
// interface so later entries cannot reuse it. A nil device specifier decides
// the whole match immediately: the pattern succeeds iff that one declared
// interface is absent from the node's original table, and any remaining
// interface patterns are not evaluated.
func (p *Pattern) MatchNode(node *model.Node, topologyVars map[string]string) bool {
	env := NewVarEnv(p.Variables, topologyVars)
	working := node.Neighbors.Clone()

	for _, ip := range p.Interfaces {
		slog.Debug("Attempting to match interface pattern", "pattern", p.Name, "spec", ip.String())

		if ip.Device == nil {
			return !node.Neighbors.Has(ip.Interface)
		}

		matched := ip.MatchNeighbors(working, env)
		if len(matched) == 0 {
			slog.Debug("Interface pattern failed to match", "pattern", p.Name, "interface", ip.Interface)
			return false
		}
		for _, intf := range matched {
			slog.Debug("Claiming interface", "pattern", p.Name, "interface", intf)
			working.Delete(intf)
		}
	}
	return true
}

// Serialize renders the pattern in document form; re-parsing the result
// yields an equivalent pattern modulo parse-time normalization.
func (p *Pattern) Serialize() map[string]any {
	doc := map[string]any{
		"name":       p.Name,
		"definition": p.Definition,
	}
	variables := p.Variables
	if variables == nil {
		variables = make(map[string]string)
	}
	doc["variables"] = variables
	if p.Node != "" {
		doc["node"] = p.Node
	}
	interfaces := make([]map[string]any, 0, len(p.Interfaces))
	for _, ip := range p.Interfaces {
		interfaces = append(interfaces, map[string]any{ip.Interface: ip.Serialize()})
	}
	doc["interfaces"] = interfaces
	return doc
}
