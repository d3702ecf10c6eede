package toolmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/mcpclient"
	"github.com/ChamsBouzaiene/toolhub/internal/progress"
)

var errClosedPeer = errors.New("result came from a closed transport")

// orchestrator is the single goroutine that folds connection events into the
// staging area, the load records and the prompt cache. Fields below the
// marker are touched by run only.
type orchestrator struct {
	events  chan event
	queries chan promptQuery
	done    chan struct{}

	registry *clientRegistry
	staging  *staging
	records  *loadRecords
	proc     processor
	styles   progress.Styles

	// owned by run
	gen         uint64
	agent       *agent.Agent
	reporter    *progress.Reporter
	total       int
	converged   chan struct{}
	signalled   bool
	initialized map[ServerName]struct{}
	loadStart   map[ServerName]time.Time
	prompts     map[string][]PromptBundle
}

func newOrchestrator(registry *clientRegistry, st *staging, records *loadRecords, proc processor) *orchestrator {
	return &orchestrator{
		events:      make(chan event, eventQueueSize),
		queries:     make(chan promptQuery),
		done:        make(chan struct{}),
		registry:    registry,
		staging:     st,
		records:     records,
		proc:        proc,
		initialized: make(map[ServerName]struct{}),
		loadStart:   make(map[ServerName]time.Time),
		prompts:     make(map[string][]PromptBundle),
	}
}

// messenger returns the Messenger for one server of generation gen.
func (o *orchestrator) messenger(gen uint64, server ServerName) *serverMessenger {
	return &serverMessenger{
		header: eventHeader{gen: gen, server: server},
		events: o.events,
		done:   o.done,
	}
}

// post delivers an event from outside a connection.
func (o *orchestrator) post(ctx context.Context, ev event) error {
	select {
	case o.events <- ev:
		return nil
	case <-o.done:
		return mcpclient.ErrMessengerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query asks the orchestrator for its prompt cache.
func (o *orchestrator) query(ctx context.Context, q promptQuery) (promptReply, error) {
	q.reply = make(chan promptReply, 1)
	select {
	case o.queries <- q:
	case <-o.done:
		return promptReply{}, ErrMissingChannel
	case <-ctx.Done():
		return promptReply{}, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r, nil
	case <-o.done:
		return promptReply{}, ErrMissingChannel
	case <-ctx.Done():
		return promptReply{}, ctx.Err()
	}
}

func (o *orchestrator) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			log.Debug(ctx, log.KV{K: "msg", V: "orchestrator stopped"})
			return
		case q := <-o.queries:
			// A query observes every event queued before it
			o.drain(ctx)
			q.reply <- o.answer(q)
		case ev := <-o.events:
			o.handle(ctx, ev)
		}
	}
}

func (o *orchestrator) drain(ctx context.Context) {
	for {
		select {
		case ev := <-o.events:
			o.handle(ctx, ev)
		default:
			return
		}
	}
}

func (o *orchestrator) handle(ctx context.Context, ev event) {
	if g, ok := ev.(generationStart); ok {
		o.startGeneration(g)
		return
	}
	if ev.generation() != o.gen {
		log.Debug(ctx, log.KV{K: "msg", V: "dropping stale event"}, log.KV{K: "event", V: fmt.Sprintf("%T", ev)}, log.KV{K: "gen", V: ev.generation()})
		return
	}

	switch ev := ev.(type) {
	case initStartEvent:
		o.registry.BeginInit(ev.server)
		o.loadStart[ev.server] = time.Now()
	case listToolsEvent:
		o.onListTools(ctx, ev)
	case listPromptsEvent:
		o.onListPrompts(ctx, ev)
	case listResourcesEvent:
		log.Debug(ctx, log.KV{K: "msg", V: "resources listed"}, log.KV{K: "server", V: ev.server}, log.KV{K: "count", V: ev.count})
	case listResourceTemplatesEvent:
		log.Debug(ctx, log.KV{K: "msg", V: "resource templates listed"}, log.KV{K: "server", V: ev.server}, log.KV{K: "count", V: ev.count})
	case oauthLinkEvent:
		o.records.append(ev.server, LoadingRecord{Kind: RecordWarn, Message: o.styles.SignInLink(ev.server, ev.link)})
		o.report(ctx, progress.SignInNotice{Name: ev.server})
	case deinitEvent:
		o.purgePrompts(ev.server)
		o.staging.markDirty()
	}
}

func (o *orchestrator) startGeneration(g generationStart) {
	o.gen = g.gen
	o.agent = g.agent
	o.reporter = g.reporter
	o.total = g.total
	o.converged = g.converged
	o.signalled = false
	o.initialized = make(map[ServerName]struct{})
	o.loadStart = make(map[ServerName]time.Time)
	o.prompts = make(map[string][]PromptBundle)
	o.staging.reset()
	o.records.clear()
	if o.total == 0 {
		o.signalConverged()
	}
}

func (o *orchestrator) onListTools(ctx context.Context, ev listToolsEvent) {
	elapsed := o.elapsed(ev.server)
	o.registry.Complete(ev.server)
	defer o.markInitialized(ev.server)

	if ev.err != nil {
		msg := ev.err.Error()
		o.records.append(ev.server, LoadingRecord{Kind: RecordErr, Message: o.styles.Failure(ev.server, msg, elapsed)})
		o.report(ctx, progress.Error{Name: ev.server, Message: msg, Time: elapsed})
		return
	}
	if ev.peer == nil || ev.peer.IsTransportClosed() {
		log.Error(ctx, errClosedPeer, log.KV{K: "msg", V: "discarding tool list"}, log.KV{K: "server", V: ev.server})
		return
	}

	var tools []string
	var aliases map[string]string
	if o.agent != nil {
		tools, aliases = o.agent.Tools, o.agent.ToolAliases
	}
	batch, warning := o.proc.process(ctx, ev.server, ev.tools, newToolFilter(ev.server, tools), aliasesFor(ev.server, aliases))
	batch.gen = ev.generation()
	o.staging.put(ev.server, batch)

	if warning == "" {
		o.records.append(ev.server, LoadingRecord{Kind: RecordSuccess, Message: o.styles.Success(ev.server, elapsed)})
		o.report(ctx, progress.Done{Name: ev.server, Time: elapsed})
		return
	}
	o.records.append(ev.server, LoadingRecord{Kind: RecordWarn, Message: o.styles.Warning(ev.server, warning, elapsed)})
	o.report(ctx, progress.Warn{Name: ev.server, Message: warning, Time: elapsed})
}

func (o *orchestrator) onListPrompts(ctx context.Context, ev listPromptsEvent) {
	if ev.err != nil {
		o.records.append(ev.server, LoadingRecord{Kind: RecordErr, Message: o.styles.PromptListFailure(ev.server, ev.err.Error())})
		return
	}
	if ev.peer == nil || ev.peer.IsTransportClosed() {
		log.Error(ctx, errClosedPeer, log.KV{K: "msg", V: "discarding prompt list"}, log.KV{K: "server", V: ev.server})
		return
	}
	o.purgePrompts(ev.server)
	for _, p := range ev.prompts {
		o.prompts[p.Name] = append(o.prompts[p.Name], PromptBundle{ServerName: ev.server, Prompt: p})
	}
}

func (o *orchestrator) purgePrompts(server ServerName) {
	for name, bundles := range o.prompts {
		kept := bundles[:0]
		for _, b := range bundles {
			if b.ServerName != server {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(o.prompts, name)
			continue
		}
		o.prompts[name] = kept
	}
}

func (o *orchestrator) markInitialized(server ServerName) {
	o.initialized[server] = struct{}{}
	if len(o.initialized) >= o.total {
		o.signalConverged()
	}
}

func (o *orchestrator) signalConverged() {
	if o.signalled || o.converged == nil {
		return
	}
	o.signalled = true
	close(o.converged)
}

func (o *orchestrator) elapsed(server ServerName) string {
	start, ok := o.loadStart[server]
	if !ok {
		return "0.0"
	}
	return fmt.Sprintf("%.2f", time.Since(start).Seconds())
}

// report forwards msg to the display without waiting for it. A message the
// display has no room for is dropped; any other failure detaches the display
// for the rest of the generation.
func (o *orchestrator) report(ctx context.Context, msg progress.Msg) {
	if o.reporter == nil {
		return
	}
	if err := o.reporter.TrySend(msg); err != nil {
		if errors.Is(err, progress.ErrFull) {
			log.Debug(ctx, log.KV{K: "msg", V: "progress message dropped"}, log.KV{K: "event", V: fmt.Sprintf("%T", msg)})
			return
		}
		if !errors.Is(err, progress.ErrClosed) {
			log.Warn(ctx, log.KV{K: "msg", V: "progress display unavailable"}, log.KV{K: "err", V: err.Error()})
		}
		o.reporter = nil
	}
}

func (o *orchestrator) answer(q promptQuery) promptReply {
	if !q.search {
		out := make(map[string][]PromptBundle, len(o.prompts))
		for name, bundles := range o.prompts {
			cp := make([]PromptBundle, len(bundles))
			for i, b := range bundles {
				p := *b.Prompt
				cp[i] = PromptBundle{ServerName: b.ServerName, Prompt: &p}
			}
			out[name] = cp
		}
		return promptReply{prompts: out}
	}

	var names []string
	for name, bundles := range o.prompts {
		candidates := []string{name}
		if len(bundles) > 1 {
			candidates = candidates[:0]
			for _, b := range bundles {
				candidates = append(candidates, b.ServerName+serverToolDelimiter+name)
			}
		}
		for _, c := range candidates {
			if q.substr == "" || strings.Contains(c, q.substr) {
				names = append(names, c)
			}
		}
	}
	sort.Strings(names)
	return promptReply{names: names}
}
