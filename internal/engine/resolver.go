package engine

import (
	"fmt"
	"log/slog"

	"ztp-topology-engine/internal/model"
)

// ResourceAllocator is the resource-pool surface the attribute resolver
// dispatches to. Lookup reports found=false, with no error, when the node
// holds no key in the pool.
type ResourceAllocator interface {
	Allocate(pool string, node *model.Node) (string, error)
	Lookup(pool string, node *model.Node) (key string, found bool, err error)
}

// ResolveAttributes walks a nested attribute structure and replaces every
// string value carrying resource-call syntax, such as allocate('mgmt_ip'),
// with the result of that pool operation for the node. Sequences are
// resolved element-wise and mappings recursively. The input is never
// mutated; a fresh structure is returned.
func ResolveAttributes(attributes map[string]any, node *model.Node, pools ResourceAllocator) (map[string]any, error) {
	resolved := make(map[string]any, len(attributes))
	for key, value := range attributes {
		out, err := resolveValue(value, node, pools)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		resolved[key] = out
	}
	return resolved, nil
}

func resolveValue(value any, node *model.Node, pools ResourceAllocator) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return ResolveAttributes(v, node, pools)
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			out, err := resolveValue(item, node, pools)
			if err != nil {
				return nil, err
			}
			items = append(items, out)
		}
		return items, nil
	case string:
		return resolveScalar(v, node, pools)
	default:
		return value, nil
	}
}

func resolveScalar(value string, node *model.Node, pools ResourceAllocator) (any, error) {
	op, pool, ok := ParseResourceCall(value)
	if !ok {
		return value, nil
	}
	switch op {
	case "allocate":
		key, err := pools.Allocate(pool, node)
		if err != nil {
			return nil, err
		}
		slog.Debug("Allocated resource", "pool", pool, "key", key, "systemmac", node.SystemMAC)
		return key, nil
	case "lookup":
		key, found, err := pools.Lookup(pool, node)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return key, nil
	}
	return nil, fmt.Errorf("unknown resource function %q", op)
}
