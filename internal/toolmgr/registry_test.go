package toolmgr

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/toolhub/internal/mcpclient"
)

// countingConn records how it was shut down.
type countingConn struct {
	pending   atomic.Bool
	closed    atomic.Bool
	waited    atomic.Int32
	cancelled atomic.Int32
}

func (c *countingConn) IsTransportClosed() bool { return c.closed.Load() }

func (c *countingConn) Ready() error {
	if c.pending.Load() {
		return mcpclient.ErrPending
	}
	return nil
}

func (c *countingConn) Wait(context.Context) error {
	c.waited.Add(1)
	c.pending.Store(false)
	return nil
}

func (c *countingConn) Cancel(context.Context) error {
	c.cancelled.Add(1)
	c.closed.Store(true)
	return nil
}

func (c *countingConn) CallTool(context.Context, string, json.RawMessage) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}

func (c *countingConn) GetPrompt(context.Context, string, map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func TestClientRegistry_InsertReady(t *testing.T) {
	r := newClientRegistry()
	assert.Equal(t, "git", r.InsertReady("git", &countingConn{}))
	assert.Equal(t, "git1", r.InsertReady("git", &countingConn{}))
	assert.Equal(t, "git11", r.InsertReady("git", &countingConn{}))
	assert.Equal(t, []string{"git", "git1", "git11"}, r.Names())
	assert.Equal(t, 3, r.Len())
}

func TestClientRegistry_Pending(t *testing.T) {
	r := newClientRegistry()
	r.resetPending([]string{"b", "a"})
	r.BeginInit("c")
	assert.Equal(t, []string{"a", "b", "c"}, r.Pending())

	r.Complete("b")
	r.Complete("unknown")
	assert.Equal(t, []string{"a", "c"}, r.Pending())

	r.resetPending(nil)
	assert.Empty(t, r.Pending())
}

func TestClientRegistry_Evict(t *testing.T) {
	r := newClientRegistry()
	ready := &countingConn{}
	pending := &countingConn{}
	pending.pending.Store(true)
	r.InsertReady("ready", ready)
	r.InsertReady("pending", pending)

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Evict(ctx)
	cancel()
	assert.Zero(t, r.Len(), "registry is drained at once")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("eviction did not finish")
	}
	assert.EqualValues(t, 1, ready.cancelled.Load())
	assert.EqualValues(t, 0, ready.waited.Load())
	assert.EqualValues(t, 1, pending.waited.Load())
	assert.EqualValues(t, 1, pending.cancelled.Load())
}

func TestStaging_DrainsInArrivalOrder(t *testing.T) {
	s := newStaging()
	assert.False(t, s.takeDirty())

	s.put("zeta", stagedBatch{specs: []ToolSpec{{Name: "z1"}}})
	s.put("alpha", stagedBatch{specs: []ToolSpec{{Name: "a1"}}})
	s.put("zeta", stagedBatch{specs: []ToolSpec{{Name: "z2"}}})

	require.True(t, s.takeDirty())
	assert.False(t, s.takeDirty())

	batches := s.drain()
	require.Len(t, batches, 2)
	assert.Equal(t, "alpha", batches[0].server)
	assert.Equal(t, "zeta", batches[1].server)
	assert.Equal(t, "z2", batches[1].specs[0].Name, "a newer listing replaces an unmerged one")
	assert.Empty(t, s.drain())
}

func TestLoadRecords(t *testing.T) {
	r := newLoadRecords()
	r.append("b", LoadingRecord{Kind: RecordErr, Message: "b failed"})
	r.append("a", LoadingRecord{Kind: RecordSuccess, Message: "a ok"})
	r.append("a", LoadingRecord{Kind: RecordErr, Message: "a conflict"})

	errs := r.errors()
	require.Len(t, errs, 2)
	assert.Equal(t, "a conflict", errs[0].Message)
	assert.Equal(t, "b failed", errs[1].Message)

	snap := r.snapshot()
	snap["a"][0].Message = "mutated"
	assert.Equal(t, "a ok", r.snapshot()["a"][0].Message)

	r.clear()
	assert.Empty(t, r.snapshot())
}
