package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/finding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(agentID string) Key {
	return Key{PR: "repo#42", HeadCommit: "abc123", ConfigHash: "cfg1", AgentID: agentID}
}

func successResult() agent.Result {
	return agent.Success(
		[]finding.Finding{{Severity: finding.SeverityWarning, File: "a.go", Line: 3, Message: "m", Agent: "x"}},
		agent.Metrics{DurationMs: 10, Tokens: 100, CostUSD: 0.01},
	)
}

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(true, t.TempDir(), 3600)
	require.NoError(t, err)

	k := testKey("llm-review")
	_, ok := c.Get(k)
	assert.False(t, ok, "miss before put")

	want := successResult()
	require.NoError(t, c.Put(k, want))

	got, ok := c.Get(k)
	require.True(t, ok, "hit after put")
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Findings, got.Findings)
	assert.Equal(t, want.Metrics, got.Metrics)
}

func TestKeyComponentsChangeHash(t *testing.T) {
	base := testKey("a")
	variants := []Key{
		{PR: "repo#43", HeadCommit: base.HeadCommit, ConfigHash: base.ConfigHash, AgentID: base.AgentID},
		{PR: base.PR, HeadCommit: "def456", ConfigHash: base.ConfigHash, AgentID: base.AgentID},
		{PR: base.PR, HeadCommit: base.HeadCommit, ConfigHash: "cfg2", AgentID: base.AgentID},
		{PR: base.PR, HeadCommit: base.HeadCommit, ConfigHash: base.ConfigHash, AgentID: "b"},
	}
	for i, v := range variants {
		assert.NotEqual(t, base.Hash(), v.Hash(), "variant %d", i)
	}
}

func TestCorruptPayloadBehavesAsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 3600)
	require.NoError(t, err)

	k := testKey("a")
	require.NoError(t, c.Put(k, successResult()))

	// Truncate the entry to simulate a partial write.
	path := filepath.Join(dir, k.Hash()+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":1,"key":"tr`), 0o644))

	_, ok := c.Get(k)
	assert.False(t, ok, "corrupt payload must be a miss, not an error")
}

func TestWrongKeyOrSchemaBehavesAsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 3600)
	require.NoError(t, err)

	k := testKey("a")
	require.NoError(t, c.Put(k, successResult()))

	// Rewrite the stored entry with a mismatched embedded key.
	path := filepath.Join(dir, k.Hash()+".json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":1,"key":"0000","result":{"status":"success","metrics":{"durationMs":1}},"createdAt":"2026-01-01T00:00:00Z"}`), 0o644))

	_, ok := c.Get(k)
	assert.False(t, ok, "embedded key mismatch must be a miss")
}

func TestInvalidStoredResultBehavesAsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 3600)
	require.NoError(t, err)

	k := testKey("a")
	entry := `{"schemaVersion":1,"key":"` + k.Hash() + `","result":{"status":"halfway","metrics":{}},"createdAt":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, k.Hash()+".json"), []byte(entry), 0o644))

	_, ok := c.Get(k)
	assert.False(t, ok, "unknown status variant must be a miss")
}

func TestTTLExpiration(t *testing.T) {
	c, err := New(true, t.TempDir(), 1)
	require.NoError(t, err)

	k := testKey("a")
	require.NoError(t, c.Put(k, successResult()))
	_, ok := c.Get(k)
	require.True(t, ok)

	time.Sleep(1100 * time.Millisecond)
	_, ok = c.Get(k)
	assert.False(t, ok, "expired entry must be a miss")
}

func TestPutRejectsInvalidResult(t *testing.T) {
	c, err := New(true, t.TempDir(), 3600)
	require.NoError(t, err)
	err = c.Put(testKey("a"), agent.Result{Status: "bogus"})
	assert.Error(t, err)
}

func TestGetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	c, err := New(true, t.TempDir(), 3600)
	require.NoError(t, err)

	var invocations atomic.Int32
	release := make(chan struct{})
	compute := func() agent.Result {
		invocations.Add(1)
		<-release
		return successResult()
	}

	k := testKey("llm-review")
	const callers = 8
	results := make([]agent.Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.GetOrCompute(k, compute)
		}(i)
	}

	// Give every caller time to reach the flight group before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), invocations.Load(), "exactly one live computation")
	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i], "caller %d observed a different result", i)
	}
}

func TestGetOrCompute_DistinctKeysDoNotContend(t *testing.T) {
	c, err := New(true, t.TempDir(), 3600)
	require.NoError(t, err)

	var invocations atomic.Int32
	compute := func() agent.Result {
		invocations.Add(1)
		return successResult()
	}

	c.GetOrCompute(testKey("a"), compute)
	c.GetOrCompute(testKey("b"), compute)
	assert.Equal(t, int32(2), invocations.Load())
}

func TestGetOrCompute_DoesNotCacheFailures(t *testing.T) {
	c, err := New(true, t.TempDir(), 3600)
	require.NoError(t, err)

	k := testKey("flaky")
	fail := agent.Failure(agent.StageExecute, errors.New("boom"), nil, agent.Metrics{DurationMs: 1})
	got := c.GetOrCompute(k, func() agent.Result { return fail })
	assert.Equal(t, agent.StatusFailure, got.Status)

	_, ok := c.Get(k)
	assert.False(t, ok, "failures are not written back")
}

func TestDisabledCacheIsNoOp(t *testing.T) {
	c, err := New(false, "", 0)
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	require.NoError(t, c.Put(testKey("a"), successResult()))
	_, ok := c.Get(testKey("a"))
	assert.False(t, ok)

	r := c.GetOrCompute(testKey("a"), successResult)
	assert.Equal(t, agent.StatusSuccess, r.Status)
}

func TestClearAndStats(t *testing.T) {
	dir := t.TempDir()
	c, err := New(true, dir, 3600)
	require.NoError(t, err)

	require.NoError(t, c.Put(testKey("a"), successResult()))
	require.NoError(t, c.Put(testKey("b"), successResult()))

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Greater(t, stats.TotalBytes, int64(0))

	require.NoError(t, c.Clear())
	stats, err = c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}
