package toolmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/progress"
	"github.com/ChamsBouzaiene/toolhub/internal/settings"
)

// ErrInterruptedLoading is returned when loading is interrupted in
// non-interactive mode.
var ErrInterruptedLoading = errors.New("User interrupted mcp server loading in non-interactive mode. Ending.")

// Native tools that are always available or switched by a setting.
const (
	DummyTool     = "dummy"
	ThinkingTool  = "thinking"
	KnowledgeTool = "knowledge"
	TodoListTool  = "todo_list"
)

const (
	defaultInitTimeout          = 5000 * time.Millisecond
	defaultNoInteractiveTimeout = 30000 * time.Millisecond
	reporterGrace               = 500 * time.Millisecond
)

var toolToggles = []struct {
	tool string
	key  string
	def  bool
}{
	{ThinkingTool, settings.ChatEnableThinking, true},
	{KnowledgeTool, settings.ChatEnableKnowledge, false},
	{TodoListTool, settings.ChatEnableTodoList, true},
}

type loadOutcome int

const (
	outcomeTimeout loadOutcome = iota
	outcomeConverged
	outcomeInterrupted
)

// LoadTools waits for the servers of the current generation, bounded by the
// configured timeout, and returns the merged catalog. Cancelling ctx
// interrupts the wait: interactive sessions continue with whatever has
// loaded, non-interactive ones fail with ErrInterruptedLoading.
func (m *Manager) LoadTools(ctx context.Context) (map[ModelToolName]ToolSpec, error) {
	m.loadNatives(ctx)

	m.mu.Lock()
	converged := m.converged
	m.mu.Unlock()

	hasClients := m.sess.registry.Len() > 0
	outcome := m.race(ctx, m.loadTimeout(ctx, hasClients), converged)
	log.Debug(ctx, log.KV{K: "msg", V: "loading finished"}, log.KV{K: "outcome", V: int(outcome)})

	switch outcome {
	case outcomeTimeout:
		m.terminate(ctx, m.PendingClients())
		if !m.interactive && hasClients {
			fmt.Fprintln(m.output, "Not all mcp servers loaded. Configure non-interactive timeout with toolhub settings mcp.noInteractiveTimeout\n------")
		}
	case outcomeConverged:
		m.terminate(ctx, nil)
	case outcomeInterrupted:
		if !m.interactive {
			return nil, ErrInterruptedLoading
		}
		m.terminate(ctx, m.PendingClients())
	}

	if !m.interactive {
		if errs := m.sess.records.errors(); len(errs) > 0 {
			fmt.Fprintln(m.output, "One or more mcp server did not load correctly.")
			for _, rec := range errs {
				fmt.Fprintln(m.output, rec.Message)
			}
		}
	}

	m.Update(ctx)
	return m.Schema(), nil
}

func (m *Manager) race(ctx context.Context, timeout time.Duration, converged <-chan struct{}) loadOutcome {
	select {
	case <-converged:
		return outcomeConverged
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-converged:
		return outcomeConverged
	case <-timer.C:
		return outcomeTimeout
	case <-ctx.Done():
		return outcomeInterrupted
	}
}

// loadTimeout is zero unless this is the first load and servers exist.
func (m *Manager) loadTimeout(ctx context.Context, hasClients bool) time.Duration {
	m.mu.Lock()
	first := m.firstLaunch
	m.mu.Unlock()
	if !hasClients || !first {
		return 0
	}
	key, def := settings.McpInitTimeout, defaultInitTimeout
	if !m.interactive {
		key, def = settings.McpNoInteractiveTimeout, defaultNoInteractiveTimeout
	}
	if m.settings == nil {
		return def
	}
	ms, ok, err := m.settings.GetInt(ctx, key)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "failed to read setting"}, log.KV{K: "key", V: key}, log.KV{K: "err", V: err.Error()})
		return def
	}
	if !ok {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// terminate ends the progress display, waiting briefly for it to flush.
func (m *Manager) terminate(ctx context.Context, stillLoading []ServerName) {
	m.mu.Lock()
	r := m.reporter
	m.reporter = nil
	m.mu.Unlock()
	if r == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.Send(ctx, progress.Terminate{StillLoading: stillLoading}); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "progress display already closed"}, log.KV{K: "err", V: err.Error()})
		return
	}
	wctx, cancel := context.WithTimeout(ctx, reporterGrace)
	defer cancel()
	_ = r.Wait(wctx)
}

// loadNatives replaces the native entries of the catalog with the native
// tools the agent may use.
func (m *Manager) loadNatives(ctx context.Context) {
	a := m.Agent()
	allowed := func(name string) bool {
		return name == DummyTool ||
			a.AllowsAll() ||
			slices.Contains(a.Tools, "@"+BuiltinServer) ||
			slices.Contains(a.Tools, name) ||
			slices.Contains(a.Tools, "@"+BuiltinServer+serverToolDelimiter+name)
	}

	specs := make(map[ModelToolName]ToolSpec)
	for _, name := range m.natives.Names() {
		if !allowed(name) {
			continue
		}
		specs[name] = nativeSpec(m.natives[name])
	}
	for _, t := range toolToggles {
		if !m.toggle(ctx, t.key, t.def) {
			delete(specs, t.tool)
		}
	}

	m.schemaMu.Lock()
	defer m.schemaMu.Unlock()
	for name, spec := range m.schema {
		if spec.Origin.IsNative() {
			delete(m.schema, name)
		}
	}
	for name, spec := range specs {
		m.schema[name] = spec
	}
}

func (m *Manager) toggle(ctx context.Context, key string, def bool) bool {
	if m.settings == nil {
		return def
	}
	v, ok, err := m.settings.GetBool(ctx, key)
	if err != nil || !ok {
		return def
	}
	return v
}

func nativeSpec(t engine.Tool) ToolSpec {
	schema := emptyObjectSchema
	if t.SchemaJSON != "" {
		schema = []byte(t.SchemaJSON)
	}
	return ToolSpec{Name: t.Name, Description: t.Description, InputSchema: schema}
}
