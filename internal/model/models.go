package model

import "strings"

// Neighbor is one remote (device, port) pair observed on a local interface
// through link-layer discovery.
type Neighbor struct {
	Device string `yaml:"device" json:"device"`
	Port   string `yaml:"port" json:"port"`
}

// NeighborTable maps local interface names to the neighbors observed on
// them. Interface insertion order is preserved so that matching walks the
// table in the order the device reported it.
type NeighborTable struct {
	order   []string
	entries map[string][]Neighbor
}

func NewNeighborTable() *NeighborTable {
	return &NeighborTable{entries: make(map[string][]Neighbor)}
}

// Add appends neighbors to an interface, registering the interface on first
// use. Neighbor order within an interface is preserved.
func (t *NeighborTable) Add(intf string, neighbors ...Neighbor) {
	if _, ok := t.entries[intf]; !ok {
		t.order = append(t.order, intf)
		t.entries[intf] = nil
	}
	t.entries[intf] = append(t.entries[intf], neighbors...)
}

// Interfaces returns the interface names in insertion order.
func (t *NeighborTable) Interfaces() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *NeighborTable) Get(intf string) []Neighbor {
	return t.entries[intf]
}

func (t *NeighborTable) Has(intf string) bool {
	_, ok := t.entries[intf]
	return ok
}

func (t *NeighborTable) Len() int {
	return len(t.order)
}

// Delete removes an interface and its neighbors. Matching uses this to
// consume a claimed interface from a working copy.
func (t *NeighborTable) Delete(intf string) {
	if _, ok := t.entries[intf]; !ok {
		return
	}
	delete(t.entries, intf)
	for i, name := range t.order {
		if name == intf {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Clone returns an independent copy. Matching consumes the copy; the
// original table is never mutated.
func (t *NeighborTable) Clone() *NeighborTable {
	clone := NewNeighborTable()
	for _, intf := range t.order {
		neighbors := make([]Neighbor, len(t.entries[intf]))
		copy(neighbors, t.entries[intf])
		clone.order = append(clone.order, intf)
		clone.entries[intf] = neighbors
	}
	return clone
}

// Node is a device that booted and reported its identity and neighbor
// table. All identity fields are optional; SystemMAC is normalized once at
// creation and is the key used for pattern binding and resource ownership.
type Node struct {
	Model        string
	SystemMAC    string
	SerialNumber string
	Version      string
	Neighbors    *NeighborTable
}

// NewNode builds a Node with a normalized SystemMAC and a non-nil neighbor
// table.
func NewNode(deviceModel, systemMAC, serialNumber, version string) *Node {
	return &Node{
		Model:        deviceModel,
		SystemMAC:    NormalizeSystemMAC(systemMAC),
		SerialNumber: serialNumber,
		Version:      version,
		Neighbors:    NewNeighborTable(),
	}
}

func (n *Node) HasNeighbors() bool {
	return n.Neighbors != nil && n.Neighbors.Len() > 0
}

// Attributes returns the node in document form, omitting unset identity
// fields. Used for journal records and result output.
func (n *Node) Attributes() map[string]any {
	attrs := make(map[string]any)
	if n.Model != "" {
		attrs["model"] = n.Model
	}
	if n.SystemMAC != "" {
		attrs["systemmac"] = n.SystemMAC
	}
	if n.SerialNumber != "" {
		attrs["serialnumber"] = n.SerialNumber
	}
	if n.Version != "" {
		attrs["version"] = n.Version
	}
	neighbors := make(map[string][]map[string]string)
	if n.Neighbors != nil {
		for _, intf := range n.Neighbors.Interfaces() {
			var entries []map[string]string
			for _, nb := range n.Neighbors.Get(intf) {
				entries = append(entries, map[string]string{"device": nb.Device, "port": nb.Port})
			}
			neighbors[intf] = entries
		}
	}
	attrs["neighbors"] = neighbors
	return attrs
}

// NormalizeSystemMAC strips the separator characters vendors embed in MAC
// addresses so the same hardware always yields the same identity string.
func NormalizeSystemMAC(mac string) string {
	replacer := strings.NewReplacer(":", "", ".", "", "-", "")
	return replacer.Replace(mac)
}
