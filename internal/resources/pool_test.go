package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ztp-topology-engine/internal/metrics"
	"ztp-topology-engine/internal/model"
)

func writePool(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func readPool(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func testNode(mac string) *model.Node {
	return model.NewNode("vEOS", mac, "", "")
}

func TestAllocateTakesFirstFreeKeyInDocumentOrder(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "mgmt_subnet", "192.168.1.10/24: null\n192.168.1.11/24: null\n192.168.1.12/24: null\n")

	mgr := NewManager(dir)
	key, err := mgr.Allocate("mgmt_subnet", testNode("00:1c:73:aa:bb:cc"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10/24", key)

	key2, err := mgr.Allocate("mgmt_subnet", testNode("00:1c:73:dd:ee:ff"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.11/24", key2)

	// Key order in the document survives the rewrite.
	contents := readPool(t, dir, "mgmt_subnet")
	assert.Regexp(t, `(?s)192\.168\.1\.10/24.*192\.168\.1\.11/24.*192\.168\.1\.12/24`, contents)
	assert.Contains(t, contents, "001c73aabbcc")
}

func TestAllocateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "loopbacks", "1.1.1.1/32: null\n1.1.1.2/32: null\n")

	mgr := NewManager(dir)
	node := testNode("00:1c:73:aa:bb:cc")

	first, err := mgr.Allocate("loopbacks", node)
	require.NoError(t, err)
	afterFirst := readPool(t, dir, "loopbacks")

	second, err := mgr.Allocate("loopbacks", node)
	require.NoError(t, err)
	afterSecond := readPool(t, dir, "loopbacks")

	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst, afterSecond, "second allocate must not rewrite the document")
}

func TestAllocateExhaustedPool(t *testing.T) {
	dir := t.TempDir()
	contents := "1.1.1.1/32: 001c73000001\n1.1.1.2/32: 001c73000002\n"
	writePool(t, dir, "loopbacks", contents)

	mgr := NewManager(dir)
	_, err := mgr.Allocate("loopbacks", testNode("00:1c:73:aa:bb:cc"))
	require.ErrorIs(t, err, ErrPoolExhausted)

	assert.Equal(t, contents, readPool(t, dir, "loopbacks"), "exhaustion must not modify the document")
}

func TestAllocateMissingPool(t *testing.T) {
	mgr := NewManager(t.TempDir())
	_, err := mgr.Allocate("nope", testNode("00:1c:73:aa:bb:cc"))
	require.ErrorIs(t, err, ErrPoolLoad)
	assert.NotErrorIs(t, err, ErrPoolExhausted, "load failure must be distinguishable from exhaustion")
}

func TestAllocateMalformedPool(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "broken", "- just\n- a\n- sequence\n")

	mgr := NewManager(dir)
	_, err := mgr.Allocate("broken", testNode("00:1c:73:aa:bb:cc"))
	require.ErrorIs(t, err, ErrPoolLoad)
}

func TestLookup(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "mgmt_subnet", "192.168.1.10/24: 001c73aabbcc\n192.168.1.11/24: null\n")

	mgr := NewManager(dir)

	key, found, err := mgr.Lookup("mgmt_subnet", testNode("00:1c:73:aa:bb:cc"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "192.168.1.10/24", key)

	_, found, err = mgr.Lookup("mgmt_subnet", testNode("00:1c:73:00:00:00"))
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = mgr.Lookup("absent", testNode("00:1c:73:aa:bb:cc"))
	require.ErrorIs(t, err, ErrPoolLoad)
}

func TestAllocateConcurrentCallersGetDistinctKeys(t *testing.T) {
	dir := t.TempDir()
	var contents string
	for i := 0; i < 8; i++ {
		contents += fmt.Sprintf("10.0.0.%d/32: null\n", i+1)
	}
	writePool(t, dir, "underlay", contents)

	mgr := NewManager(dir)
	keys := make([]string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := mgr.Allocate("underlay", testNode(fmt.Sprintf("001c7300000%d", i)))
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, key := range keys {
		assert.False(t, seen[key], "key %s allocated twice", key)
		seen[key] = true
	}
}

func TestAllocateRecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	writePool(t, dir, "mgmt_subnet", "192.168.1.10/24: null\n")

	reg := metrics.NewRegistry()
	mgr := NewManager(dir).WithMetrics(reg)
	node := testNode("00:1c:73:aa:bb:cc")

	_, err := mgr.Allocate("mgmt_subnet", node)
	require.NoError(t, err)
	_, err = mgr.Allocate("mgmt_subnet", node)
	require.NoError(t, err)
	_, err = mgr.Allocate("mgmt_subnet", testNode("00:1c:73:dd:ee:ff"))
	require.ErrorIs(t, err, ErrPoolExhausted)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	var found bool
	for _, fam := range families {
		if fam.GetName() == "ztp_pool_allocations_total" {
			found = true
			assert.Len(t, fam.GetMetric(), 3, "expected allocated, hit and exhausted series")
		}
	}
	assert.True(t, found, "allocation counter not registered")
}
