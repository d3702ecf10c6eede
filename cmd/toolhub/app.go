package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/config"
	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/sandbox"
	"github.com/ChamsBouzaiene/toolhub/internal/settings"
	"github.com/ChamsBouzaiene/toolhub/internal/telemetry"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
	"github.com/ChamsBouzaiene/toolhub/internal/tools"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/knowledge"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/todo"
)

const closeTimeout = 5 * time.Second

// interruptible returns a child of ctx that the next Ctrl-C cancels. The
// parent is left running, so an interrupt ends only the current phase.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

// cli is the process-wide application state shared by the commands, which
// go-flags constructs without a context.
var cli *app

type app struct {
	ctx  context.Context
	opts *Options

	cfg       *config.Manager
	logFile   *os.File
	db        *sql.DB
	settings  *settings.Store
	telemetry *telemetry.Client
	knowledge *knowledge.Store
	closers   []func()
}

// setupLogging builds the logging context. Logs go to the log file, and to
// stderr too with --log-stderr.
func (a *app) setupLogging() error {
	cfg, err := config.NewManager()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f

	var out io.Writer = f
	format := log.FormatJSON
	if a.opts.LogStderr {
		out = io.MultiWriter(f, os.Stderr)
		if log.IsTerminal() {
			format = log.FormatTerminal
		}
	}
	if c, err := cfg.Load(); err == nil {
		switch c.LogFormat {
		case "text":
			format = log.FormatText
		case "terminal":
			format = log.FormatTerminal
		case "json":
			format = log.FormatJSON
		}
	}
	ctx := log.Context(a.ctx,
		log.WithOutput(out),
		log.WithFormat(format),
		log.WithDisableBuffering(func(context.Context) bool { return true }),
	)
	if a.opts.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debug(ctx, log.KV{K: "msg", V: "debug logs enabled"}, log.KV{K: "log", V: cfg.LogPath()})
	}
	a.ctx = ctx
	return nil
}

// open connects the database and the stores built on it.
func (a *app) open() error {
	if a.db != nil {
		return nil
	}
	db, err := settings.OpenDB(a.ctx, a.cfg.DatabasePath())
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, func() { db.Close() })

	if a.settings, err = settings.New(a.ctx, db); err != nil {
		return err
	}
	if a.telemetry, err = telemetry.New(a.ctx, db); err != nil {
		return err
	}
	a.closers = append(a.closers, a.telemetry.Close)
	return nil
}

func (a *app) workspace() (string, error) {
	root := a.opts.Workspace
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return abs, nil
}

func (a *app) loader() (*agent.Loader, error) {
	root, err := a.workspace()
	if err != nil {
		return nil, err
	}
	return agent.NewLoader(a.cfg, root), nil
}

// selectAgent resolves the agent to use: --agent, then the configured
// default, then the built-in default.
func (a *app) selectAgent(agents *agent.Agents) (*agent.Agent, error) {
	name := a.opts.Agent
	if name == "" {
		if c, err := a.cfg.Load(); err == nil {
			name = c.DefaultAgent
		}
	}
	if name == "" {
		name = agent.DefaultName
	}
	ag, ok := agents.Get(name)
	if !ok {
		return nil, fmt.Errorf("agent %q not found (available: %v)", name, agents.Names())
	}
	return ag, nil
}

// natives builds the native tool registry for the workspace.
func (a *app) natives() (engine.ToolRegistry, error) {
	root, err := a.workspace()
	if err != nil {
		return nil, err
	}
	if a.knowledge == nil {
		ks, err := knowledge.NewStore()
		if err != nil {
			return nil, err
		}
		a.knowledge = ks
		a.closers = append(a.closers, func() { ks.Close() })
	}
	todos, err := todo.NewStore(a.ctx, a.db)
	if err != nil {
		return nil, err
	}
	runner := sandbox.NewRunner(a.ctx, sandbox.ConfigFromEnv(a.ctx))
	return tools.NewRegistry(tools.Options{Root: root, Runner: runner, Knowledge: a.knowledge, Todos: todos})
}

// manager opens everything and builds a tool manager for the selected agent.
func (a *app) manager(interactive bool) (*toolmgr.Manager, *agent.Loader, error) {
	if err := a.open(); err != nil {
		return nil, nil, err
	}
	loader, err := a.loader()
	if err != nil {
		return nil, nil, err
	}
	agents, err := loader.Load(a.ctx)
	if err != nil {
		return nil, nil, err
	}
	ag, err := a.selectAgent(agents)
	if err != nil {
		return nil, nil, err
	}
	natives, err := a.natives()
	if err != nil {
		return nil, nil, err
	}

	m, err := toolmgr.Builder{
		ConversationID: uuid.NewString(),
		Agent:          ag,
		Settings:       a.settings,
		Telemetry:      a.telemetry,
		Output:         os.Stderr,
		Interactive:    interactive,
		TTY:            interactive && log.IsTerminal(),
		Natives:        natives,
	}.Build(a.ctx)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), closeTimeout)
		defer cancel()
		if err := m.Close(cctx); err != nil {
			log.Warn(a.ctx, log.KV{K: "msg", V: "tool manager close failed"}, log.KV{K: "err", V: err.Error()})
		}
	})
	return m, loader, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.logFile != nil {
		a.logFile.Close()
	}
}
