package engine

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"ztp-topology-engine/internal/model"
)

// fakePools derives a stable key per pool and remembers ownership.
type fakePools struct {
	allocated map[string]string // pool -> key
}

func newFakePools() *fakePools {
	return &fakePools{allocated: make(map[string]string)}
}

func (f *fakePools) Allocate(pool string, node *model.Node) (string, error) {
	if key, ok := f.allocated[pool]; ok {
		return key, nil
	}
	if pool == "empty_pool" {
		return "", errors.New("no resources available in pool")
	}
	key := fmt.Sprintf("%s-key1", pool)
	f.allocated[pool] = key
	return key, nil
}

func (f *fakePools) Lookup(pool string, node *model.Node) (string, bool, error) {
	key, ok := f.allocated[pool]
	return key, ok, nil
}

func TestResolveAttributes(t *testing.T) {
	node := model.NewNode("vEOS", "001c73aabbcc", "", "")
	attrs := map[string]any{
		"hostname": "leaf-1",
		"mgmt_ip":  "allocate('mgmt_subnet')",
		"ntp": map[string]any{
			"source": "allocate('loopbacks')",
			"server": "pool.ntp.org",
		},
		"name_servers": []any{"8.8.8.8", "allocate('dns_vips')"},
		"asn":          65001,
	}

	resolved, err := ResolveAttributes(attrs, node, newFakePools())
	if err != nil {
		t.Fatalf("ResolveAttributes: %v", err)
	}

	if resolved["hostname"] != "leaf-1" || resolved["asn"] != 65001 {
		t.Errorf("plain values must pass through unchanged: %v", resolved)
	}
	if resolved["mgmt_ip"] != "mgmt_subnet-key1" {
		t.Errorf("mgmt_ip = %v, want allocation result", resolved["mgmt_ip"])
	}
	ntp := resolved["ntp"].(map[string]any)
	if ntp["source"] != "loopbacks-key1" || ntp["server"] != "pool.ntp.org" {
		t.Errorf("nested mapping not resolved: %v", ntp)
	}
	servers := resolved["name_servers"].([]any)
	if !reflect.DeepEqual(servers, []any{"8.8.8.8", "dns_vips-key1"}) {
		t.Errorf("sequence not resolved element-wise: %v", servers)
	}
}

func TestResolveAttributesDoesNotMutateInput(t *testing.T) {
	node := model.NewNode("", "001c73aabbcc", "", "")
	attrs := map[string]any{
		"mgmt_ip": "allocate('mgmt_subnet')",
		"nested":  map[string]any{"ip": "allocate('loopbacks')"},
	}

	if _, err := ResolveAttributes(attrs, node, newFakePools()); err != nil {
		t.Fatal(err)
	}
	if attrs["mgmt_ip"] != "allocate('mgmt_subnet')" {
		t.Error("input scalar was mutated")
	}
	if attrs["nested"].(map[string]any)["ip"] != "allocate('loopbacks')" {
		t.Error("input nested mapping was mutated")
	}
}

func TestResolveAttributesLookupNotFound(t *testing.T) {
	node := model.NewNode("", "001c73aabbcc", "", "")
	resolved, err := ResolveAttributes(map[string]any{
		"existing": "lookup('unallocated_pool')",
	}, node, newFakePools())
	if err != nil {
		t.Fatal(err)
	}
	if resolved["existing"] != nil {
		t.Errorf("lookup miss should resolve to nil, got %v", resolved["existing"])
	}
}

func TestResolveAttributesPropagatesAllocationFailure(t *testing.T) {
	node := model.NewNode("", "001c73aabbcc", "", "")
	_, err := ResolveAttributes(map[string]any{
		"ip": "allocate('empty_pool')",
	}, node, newFakePools())
	if err == nil {
		t.Fatal("expected allocation failure to propagate")
	}
}

func TestResolveAttributesUnknownFunction(t *testing.T) {
	node := model.NewNode("", "001c73aabbcc", "", "")
	_, err := ResolveAttributes(map[string]any{
		"ip": "reserve('mgmt_subnet')",
	}, node, newFakePools())
	if err == nil {
		t.Fatal("expected error for unknown resource function")
	}
}
