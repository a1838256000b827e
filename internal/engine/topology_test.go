package engine

import (
	"testing"

	"ztp-topology-engine/internal/model"
)

func addPattern(t *testing.T, topo *Topology, name, definition, node string, device string) *Pattern {
	t.Helper()
	pattern := &Pattern{Name: name, Definition: definition, Node: node}
	if err := pattern.AddInterface(Any, strp(device), strp(Any), nil); err != nil {
		t.Fatal(err)
	}
	topo.AddPattern(pattern)
	return pattern
}

func TestSetVariablesDropsReservedWords(t *testing.T) {
	topo := NewTopology()
	topo.SetVariables(map[string]string{
		"spine_device": "exact('spine1')",
		"any":          "oops",
		"none":         "oops",
	})
	vars := topo.Variables()
	if len(vars) != 1 {
		t.Fatalf("expected reserved keys dropped, got %v", vars)
	}
	if vars["spine_device"] != "exact('spine1')" {
		t.Errorf("legitimate variable lost: %v", vars)
	}
}

func TestAddPatternSubstitutesTopologyVariables(t *testing.T) {
	topo := NewTopology()
	topo.SetVariables(map[string]string{"spine_device": "exact('spine1')"})

	pattern := &Pattern{Name: "leaf", Definition: "leaf"}
	if err := pattern.AddInterface("Ethernet1", strp("spine_device"), strp(Any), nil); err != nil {
		t.Fatal(err)
	}
	topo.AddPattern(pattern)

	if got := *pattern.Interfaces[0].Device; got != "exact('spine1')" {
		t.Errorf("device specifier = %q, want substituted value", got)
	}
}

func TestBoundPatternIsExclusive(t *testing.T) {
	topo := NewTopology()
	// This global pattern would match any node with a spine neighbor.
	addPattern(t, topo, "global catchall", "leaf", "", Any)
	bound := addPattern(t, topo, "pinned", "special", "001c73aabbcc", "exact('nomatch')")

	node := model.NewNode("vEOS", "00:1c:73:aa:bb:cc", "", "")
	node.Neighbors.Add("Ethernet1", model.Neighbor{Device: "spine1", Port: "Ethernet1"})

	candidates := topo.PatternsFor(node)
	if len(candidates) != 1 || candidates[0] != bound {
		t.Fatalf("expected only the bound pattern, got %d candidates", len(candidates))
	}

	// The bound pattern cannot match this node, and the global pattern must
	// not be consulted as a fallback.
	if matches := topo.MatchNode(node); len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestBoundPatternLastDefinitionWins(t *testing.T) {
	topo := NewTopology()
	addPattern(t, topo, "first", "a", "001c73aabbcc", Any)
	second := addPattern(t, topo, "second", "b", "001c73aabbcc", Any)

	if topo.NodePatternCount() != 1 {
		t.Fatalf("expected one bound pattern, got %d", topo.NodePatternCount())
	}
	node := model.NewNode("", "001c73aabbcc", "", "")
	if candidates := topo.PatternsFor(node); candidates[0] != second {
		t.Error("later bound pattern should overwrite the earlier one")
	}
}

func TestMatchNodeReturnsAllMatchesInOrder(t *testing.T) {
	topo := NewTopology()
	first := addPattern(t, topo, "first", "a", "", Any)
	addPattern(t, topo, "miss", "b", "", "exact('nomatch')")
	third := addPattern(t, topo, "third", "c", "", "exact('spine1')")

	node := model.NewNode("", "001c73aabbcc", "", "")
	node.Neighbors.Add("Ethernet1", model.Neighbor{Device: "spine1", Port: "Ethernet1"})

	matches := topo.MatchNode(node)
	if len(matches) != 2 || matches[0] != first || matches[1] != third {
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		t.Errorf("matches = %v, want [first third]", names)
	}
}

func TestMatchNodeEmptyResultIsValid(t *testing.T) {
	topo := NewTopology()
	node := model.NewNode("", "001c73aabbcc", "", "")
	if matches := topo.MatchNode(node); matches != nil {
		t.Errorf("expected nil matches from an empty catalog, got %v", matches)
	}
}

func TestStorePublishSwapsSnapshot(t *testing.T) {
	store := NewStore()
	original := store.Topology()
	if original == nil {
		t.Fatal("new store must hold an empty topology")
	}

	replacement := NewTopology()
	addPattern(t, replacement, "p", "d", "", Any)
	store.Publish(replacement)

	if store.Topology() != replacement {
		t.Error("published topology not visible")
	}
	if len(original.Globals()) != 0 {
		t.Error("original snapshot was mutated by the swap")
	}
}

func TestAllPatternsOrdering(t *testing.T) {
	topo := NewTopology()
	addPattern(t, topo, "g1", "a", "", Any)
	addPattern(t, topo, "g2", "b", "", Any)
	addPattern(t, topo, "n1", "c", "bbb", Any)
	addPattern(t, topo, "n2", "d", "aaa", Any)

	all := topo.AllPatterns()
	if len(all) != 4 {
		t.Fatalf("expected 4 patterns, got %d", len(all))
	}
	wantNames := []string{"g1", "g2", "n2", "n1"}
	for i, want := range wantNames {
		if all[i].Name != want {
			t.Errorf("AllPatterns[%d] = %s, want %s", i, all[i].Name, want)
		}
	}
}
