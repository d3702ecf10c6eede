// Package toolmgr merges the tools of every configured tool server and the
// native tools into one model-facing catalog and routes tool calls back to
// whoever serves them.
//
// A Manager is built once per conversation. Connections report into a single
// orchestrator goroutine which stages processed tool lists; LoadTools and
// Update publish the staged lists into the catalog.
package toolmgr

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/progress"
	"github.com/ChamsBouzaiene/toolhub/internal/telemetry"
)

// Settings answers the user settings the manager consults.
type Settings interface {
	GetInt(ctx context.Context, key string) (int64, bool, error)
	GetBool(ctx context.Context, key string) (bool, bool, error)
}

// Builder collects what a Manager needs. Zero fields get defaults.
type Builder struct {
	ConversationID string
	Agent          *agent.Agent
	Settings       Settings
	Telemetry      Telemetry
	Output         io.Writer
	Interactive    bool
	TTY            bool // Animate progress instead of printing lines
	Connector      Connector
	Natives        engine.ToolRegistry
}

// session is the state that survives agent swaps: the registry, the staging
// area, the load records and the orchestrator goroutine.
type session struct {
	registry *clientRegistry
	staging  *staging
	records  *loadRecords
	orch     *orchestrator
	stop     context.CancelFunc
	gen      atomic.Uint64
}

// Manager owns the merged tool catalog of one conversation.
type Manager struct {
	convID      string
	interactive bool
	tty         bool
	output      io.Writer
	styles      progress.Styles
	settings    Settings
	telemetry   Telemetry
	connector   Connector
	natives     engine.ToolRegistry
	sess        *session

	mu          sync.Mutex
	agent       *agent.Agent
	converged   chan struct{}
	reporter    *progress.Reporter
	disabled    []ServerName
	firstLaunch bool

	schemaMu sync.RWMutex
	schema   map[ModelToolName]ToolSpec
	tnMap    map[ModelToolName]ToolInfo
}

// Build starts connecting to every enabled server of the agent and returns
// at once. Call LoadTools to wait for the catalog.
func (b Builder) Build(ctx context.Context) (*Manager, error) {
	if b.ConversationID == "" {
		b.ConversationID = uuid.NewString()
	}
	if b.Agent == nil {
		b.Agent = agent.Default()
	}
	if b.Telemetry == nil {
		b.Telemetry = nopTelemetry{}
	}
	if b.Output == nil {
		b.Output = io.Discard
	}
	if b.Connector == nil {
		b.Connector = MCPConnector{}
	}
	if b.Natives == nil {
		b.Natives = engine.ToolRegistry{}
	}

	sess := &session{
		registry: newClientRegistry(),
		staging:  newStaging(),
		records:  newLoadRecords(),
	}
	sess.orch = newOrchestrator(sess.registry, sess.staging, sess.records, processor{telemetry: b.Telemetry, convID: b.ConversationID})
	octx, stop := context.WithCancel(context.WithoutCancel(ctx))
	sess.stop = stop
	go sess.orch.run(octx)

	m := &Manager{
		convID:      b.ConversationID,
		interactive: b.Interactive,
		tty:         b.TTY,
		output:      b.Output,
		styles:      progress.NewStyles(b.Output),
		settings:    b.Settings,
		telemetry:   b.Telemetry,
		connector:   b.Connector,
		natives:     b.Natives,
		sess:        sess,
		agent:       b.Agent.Clone(),
		firstLaunch: true,
		schema:      make(map[ModelToolName]ToolSpec),
		tnMap:       make(map[ModelToolName]ToolInfo),
	}
	if err := m.launch(ctx); err != nil {
		stop()
		return nil, err
	}
	return m, nil
}

// launch opens a new generation for the current agent and connects its
// enabled servers.
func (m *Manager) launch(ctx context.Context) error {
	a := m.Agent()

	var enabled, disabled []ServerName
	for _, name := range a.ServerNames() {
		switch {
		case a.McpServers[name].Disabled:
			disabled = append(disabled, name)
		case name == BuiltinServer:
			fmt.Fprintln(m.output, m.styles.InvalidServerName(name))
		default:
			enabled = append(enabled, name)
		}
	}

	gen := m.sess.gen.Add(1)
	m.sess.registry.resetPending(enabled)

	var reporter *progress.Reporter
	if m.interactive && len(enabled)+len(disabled) > 0 {
		reporter = progress.Start(context.WithoutCancel(ctx), progress.Options{
			Output:   m.output,
			Total:    len(enabled),
			Disabled: disabled,
			TTY:      m.tty,
		})
	}
	converged := make(chan struct{})

	m.mu.Lock()
	m.converged = converged
	m.reporter = reporter
	m.disabled = disabled
	m.mu.Unlock()

	err := m.sess.orch.post(ctx, generationStart{
		gen:       gen,
		total:     len(enabled),
		agent:     a,
		reporter:  reporter,
		converged: converged,
	})
	if err != nil {
		return fmt.Errorf("failed to start loading: %w", err)
	}

	log.Info(ctx, log.KV{K: "msg", V: "loading tool servers"}, log.KV{K: "agent", V: a.Name},
		log.KV{K: "enabled", V: len(enabled)}, log.KV{K: "disabled", V: len(disabled)})

	for _, name := range enabled {
		msgr := m.sess.orch.messenger(gen, name)
		conn, err := m.connector.Connect(ctx, name, a.McpServers[name], msgr)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "failed to start server"}, log.KV{K: "server", V: name})
			m.telemetry.SendMcpServerInit(ctx, telemetry.McpServerInit{
				ConversationID:    m.convID,
				ServerName:        name,
				InitFailureReason: err.Error(),
			})
			if perr := msgr.SendToolsListResult(ctx, nil, err, nil); perr != nil {
				return fmt.Errorf("failed to report %s: %w", name, perr)
			}
			continue
		}
		m.sess.registry.InsertReady(name, conn)
	}
	return nil
}

// SwapAgent drops every server of the current agent and loads the servers
// of a. Servers still loading when it returns keep arriving through Update.
func (m *Manager) SwapAgent(ctx context.Context, a *agent.Agent) (map[ModelToolName]ToolSpec, error) {
	m.sess.registry.Evict(ctx)

	m.mu.Lock()
	m.agent = a.Clone()
	m.firstLaunch = false
	m.mu.Unlock()

	m.sess.staging.reset()
	m.sess.records.clear()
	m.schemaMu.Lock()
	m.schema = make(map[ModelToolName]ToolSpec)
	m.tnMap = make(map[ModelToolName]ToolInfo)
	m.schemaMu.Unlock()

	if err := m.launch(ctx); err != nil {
		return nil, err
	}
	return m.LoadTools(ctx)
}

// Close shuts every connection down and stops the orchestrator.
func (m *Manager) Close(ctx context.Context) error {
	m.terminate(ctx, nil)
	done := m.sess.registry.Evict(ctx)
	defer m.sess.stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schema returns a copy of the merged catalog.
func (m *Manager) Schema() map[ModelToolName]ToolSpec {
	m.schemaMu.RLock()
	defer m.schemaMu.RUnlock()
	return maps.Clone(m.schema)
}

// Lookup returns where a model-facing name routes to.
func (m *Manager) Lookup(name ModelToolName) (ToolInfo, bool) {
	m.schemaMu.RLock()
	defer m.schemaMu.RUnlock()
	info, ok := m.tnMap[name]
	return info, ok
}

// PendingClients returns the servers that have not finished loading.
func (m *Manager) PendingClients() []ServerName {
	return m.sess.registry.Pending()
}

// LoadRecords returns every loading outcome, keyed by server.
func (m *Manager) LoadRecords() map[ServerName][]LoadingRecord {
	return m.sess.records.snapshot()
}

// DisabledServers returns the servers the agent has switched off.
func (m *Manager) DisabledServers() []ServerName {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ServerName(nil), m.disabled...)
}

// Agent returns a copy of the active agent.
func (m *Manager) Agent() *agent.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent.Clone()
}

func (m *Manager) ConversationID() string {
	return m.convID
}

// SortedSpecs orders a catalog by tool name.
func SortedSpecs(schema map[ModelToolName]ToolSpec) []ToolSpec {
	out := make([]ToolSpec, 0, len(schema))
	for _, s := range schema {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
