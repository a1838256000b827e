// Package resources implements file-backed resource pools: named sets of
// pre-provisioned keys, each claimable by at most one device identity.
package resources

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"ztp-topology-engine/internal/metrics"
	"ztp-topology-engine/internal/model"
)

var (
	// ErrPoolExhausted is returned by Allocate when every key in the pool
	// already has an owner. Distinct from load failures so callers can fall
	// back to another pool.
	ErrPoolExhausted = errors.New("no resources available in pool")

	// ErrPoolLoad covers unreadable or undecodable pool documents. The
	// underlying detail is logged, not returned.
	ErrPoolLoad = errors.New("unable to load pool")
)

// Manager owns the pool working directory and serializes allocation per
// pool. The load-mutate-store cycle in Allocate runs under a mutex scoped to
// the pool name; Lookup is read-only and takes no lock, so its result can be
// stale the moment it returns.
type Manager struct {
	workdir string
	metrics *metrics.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(workdir string) *Manager {
	return &Manager{
		workdir: workdir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// WithMetrics attaches a metrics registry and returns the manager for
// chaining.
func (m *Manager) WithMetrics(reg *metrics.Registry) *Manager {
	m.metrics = reg
	return m
}

func (m *Manager) poolLock(pool string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[pool]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[pool] = lock
	}
	return lock
}

func (m *Manager) path(pool string) string {
	return filepath.Join(m.workdir, pool)
}

// Lookup returns the key currently owned by the node's identity, if any.
// Deterministic and side-effect free.
func (m *Manager) Lookup(pool string, node *model.Node) (string, bool, error) {
	slog.Debug("Looking up resource", "pool", pool, "systemmac", node.SystemMAC)
	doc, err := m.load(pool)
	if err != nil {
		return "", false, err
	}
	key, found := doc.find(node.SystemMAC)
	return key, found, nil
}

// Allocate idempotently assigns a key from the pool to the node. A node that
// already owns a key gets the same key back with no write. Otherwise the
// first unallocated key in document order is claimed, the document is
// rewritten in full, and the key returned.
func (m *Manager) Allocate(pool string, node *model.Node) (string, error) {
	lock := m.poolLock(pool)
	lock.Lock()
	defer lock.Unlock()

	doc, err := m.load(pool)
	if err != nil {
		m.record(pool, "error")
		return "", err
	}

	if key, found := doc.find(node.SystemMAC); found {
		slog.Debug("Found allocated resource", "pool", pool, "key", key, "systemmac", node.SystemMAC)
		m.record(pool, "hit")
		return key, nil
	}

	key, ok := doc.claimFirst(node.SystemMAC)
	if !ok {
		m.record(pool, "exhausted")
		return "", fmt.Errorf("%w: %s", ErrPoolExhausted, pool)
	}

	if err := m.persist(pool, doc); err != nil {
		m.record(pool, "error")
		return "", err
	}
	slog.Debug("Allocated resource", "pool", pool, "key", key, "systemmac", node.SystemMAC)
	m.record(pool, "allocated")
	return key, nil
}

func (m *Manager) record(pool, status string) {
	if m.metrics != nil {
		m.metrics.RecordAllocation(pool, status)
	}
}

func (m *Manager) load(pool string) (*document, error) {
	data, err := os.ReadFile(m.path(pool))
	if err != nil {
		slog.Debug("Unable to read pool file", "pool", pool, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrPoolLoad, pool)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Debug("Unable to decode pool file", "pool", pool, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrPoolLoad, pool)
	}
	return &doc, nil
}

// persist writes the whole document to a temp file in the working directory
// and renames it into place, so a concurrent reader never sees a torn
// document.
func (m *Manager) persist(pool string, doc *document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding pool %s: %w", pool, err)
	}
	tmp, err := os.CreateTemp(m.workdir, pool+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing pool %s: %w", pool, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pool %s: %w", pool, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pool %s: %w", pool, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pool %s: %w", pool, err)
	}
	if err := os.Rename(tmp.Name(), m.path(pool)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pool %s: %w", pool, err)
	}
	return nil
}

// entry is one pool slot: a key and its owner, nil while unallocated.
type entry struct {
	key   string
	owner *string
}

// document is a pool file held in memory. Key order follows the document so
// allocation is deterministic.
type document struct {
	entries []entry
}

func (d *document) find(owner string) (string, bool) {
	for _, e := range d.entries {
		if e.owner != nil && *e.owner == owner {
			return e.key, true
		}
	}
	return "", false
}

func (d *document) claimFirst(owner string) (string, bool) {
	for i := range d.entries {
		if d.entries[i].owner == nil {
			d.entries[i].owner = &owner
			return d.entries[i].key, true
		}
	}
	return "", false
}

// UnmarshalYAML decodes the flat key-to-owner mapping while preserving
// document order, which the plain map type would lose.
func (d *document) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("pool document must be a mapping, got %v", node.Kind)
	}
	d.entries = d.entries[:0]
	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		e := entry{key: keyNode.Value}
		if valueNode.Tag != "!!null" {
			owner := valueNode.Value
			e.owner = &owner
		}
		d.entries = append(d.entries, e)
	}
	return nil
}

// MarshalYAML re-emits the mapping in original key order.
func (d *document) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range d.entries {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: e.key}
		valueNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		if e.owner != nil {
			valueNode = &yaml.Node{Kind: yaml.ScalarNode, Value: *e.owner}
		}
		out.Content = append(out.Content, keyNode, valueNode)
	}
	return out, nil
}
