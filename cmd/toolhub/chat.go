package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

const chatHelp = `Commands:
  /tools                 list the tool catalog
  /prompts [filter]      list prompts
  @<prompt> [args...]    fetch a prompt (use @server/prompt when ambiguous)
  /call <tool> <json>    call a tool
  /agent [name]          show agents or switch to one
  /mcp                   show server loading status
  /quit                  exit`

// ChatCmd is the interactive session.
type ChatCmd struct {
	NoInteractive bool `long:"no-interactive" description:"Load the tools once, print the catalog and exit"`
}

func (c *ChatCmd) Execute(args []string) error {
	m, loader, err := cli.manager(!c.NoInteractive)
	if err != nil {
		return err
	}
	lctx, stop := interruptible(cli.ctx)
	schema, err := m.LoadTools(lctx)
	stop()
	if err != nil {
		return err
	}
	if c.NoInteractive {
		return printSpecs(os.Stdout, toolmgr.SortedSpecs(schema), "table")
	}

	s := &chatSession{app: cli, m: m, out: os.Stdout}
	s.agents, err = loader.Load(cli.ctx)
	if err != nil {
		return err
	}
	w, err := agent.NewWatcher(cli.ctx, loader, s.reloaded)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		log.Warn(cli.ctx, log.KV{K: "msg", V: "agent watcher not started"}, log.KV{K: "err", V: err.Error()})
	}
	defer w.Stop()

	fmt.Fprintf(s.out, "%d tools loaded for agent %s. Type /help for commands.\n", len(schema), m.Agent().Name)
	return s.loop(os.Stdin)
}

type chatSession struct {
	app *app
	m   *toolmgr.Manager
	out io.Writer

	mu     sync.Mutex
	agents *agent.Agents
}

// reloaded keeps the agent list current. When the active agent's file
// changed, the session swaps to the new definition.
func (s *chatSession) reloaded(agents *agent.Agents) {
	s.mu.Lock()
	s.agents = agents
	s.mu.Unlock()

	loaded := s.m.Agent()
	current := loaded.Name
	a, ok := agents.Get(current)
	if !ok {
		log.Warn(s.app.ctx, log.KV{K: "msg", V: "active agent removed, keeping the loaded one"}, log.KV{K: "agent", V: current})
		return
	}
	if reflect.DeepEqual(a, loaded) {
		return
	}
	log.Info(s.app.ctx, log.KV{K: "msg", V: "active agent changed, reloading"}, log.KV{K: "agent", V: current})
	if _, err := s.m.SwapAgent(s.app.ctx, a); err != nil {
		log.Error(s.app.ctx, err, log.KV{K: "msg", V: "agent reload failed"}, log.KV{K: "agent", V: current})
	}
}

// loop reads commands until /quit, end of input or cancellation. Lines are
// read on their own goroutine so Ctrl-C is not stuck behind a blocked read.
// Ctrl-C at the prompt ends the session; during a command it only cancels
// that command.
func (s *chatSession) loop(in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errc <- scanner.Err()
		close(lines)
	}()

	ctx := s.app.ctx
	for {
		fmt.Fprint(s.out, "> ")
		line, ok := s.read(ctx, lines)
		if !ok {
			fmt.Fprintln(s.out)
			select {
			case err := <-errc:
				return err
			default:
				return nil
			}
		}
		if line == "" {
			continue
		}
		s.m.Update(ctx)
		hctx, stop := interruptible(ctx)
		quit, err := s.handle(hctx, line)
		stop()
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// read waits for the next line. It reports false on end of input, Ctrl-C or
// cancellation of ctx.
func (s *chatSession) read(ctx context.Context, lines <-chan string) (string, bool) {
	ctx, stop := interruptible(ctx)
	defer stop()
	select {
	case <-ctx.Done():
		return "", false
	case l, ok := <-lines:
		return strings.TrimSpace(l), ok
	}
}

func (s *chatSession) handle(ctx context.Context, line string) (bool, error) {
	if strings.HasPrefix(line, "@") {
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			return false, toolmgr.ErrMissingPromptName
		}
		res, err := s.m.GetPrompt(ctx, fields[0], fields[1:])
		if err != nil {
			return false, err
		}
		printPrompt(s.out, res)
		return false, nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/tools":
		return false, printSpecs(s.out, toolmgr.SortedSpecs(s.m.Schema()), "table")
	case "/prompts":
		names, err := s.m.SearchPrompts(ctx, rest)
		if err != nil {
			return false, err
		}
		if len(names) == 0 {
			fmt.Fprintln(s.out, "No prompts found.")
		}
		for _, n := range names {
			fmt.Fprintln(s.out, n)
		}
	case "/call":
		name, input, _ := strings.Cut(rest, " ")
		if name == "" {
			return false, errors.New("usage: /call <tool> <json>")
		}
		res, err := callTool(ctx, s.m, name, strings.TrimSpace(input))
		if err != nil {
			return false, err
		}
		status := "ok"
		if res.IsError() {
			status = "error"
		}
		fmt.Fprintf(s.out, "[%s] %s\n", status, res.Text())
	case "/agent":
		return false, s.switchAgent(ctx, rest)
	case "/mcp":
		s.status()
	default:
		fmt.Fprintf(s.out, "unknown command %q\n%s\n", cmd, chatHelp)
	}
	return false, nil
}

func (s *chatSession) switchAgent(ctx context.Context, name string) error {
	s.mu.Lock()
	agents := s.agents
	s.mu.Unlock()

	if name == "" {
		current := s.m.Agent().Name
		for _, n := range agents.Names() {
			marker := " "
			if n == current {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %s\n", marker, n)
		}
		return nil
	}
	a, ok := agents.Get(name)
	if !ok {
		return fmt.Errorf("agent %q not found", name)
	}
	schema, err := s.m.SwapAgent(ctx, a)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Switched to agent %s, %d tools loaded.\n", name, len(schema))
	return nil
}

// status prints the load records, pending servers and disabled servers.
func (s *chatSession) status() {
	records := s.m.LoadRecords()
	servers := make([]string, 0, len(records))
	for name := range records {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	for _, name := range servers {
		fmt.Fprintf(s.out, "%s:\n", name)
		for _, r := range records[name] {
			fmt.Fprintf(s.out, "  [%s] %s\n", r.Kind, strings.TrimSpace(r.Message))
		}
	}
	if pending := s.m.PendingClients(); len(pending) > 0 {
		fmt.Fprintf(s.out, "still loading: %s\n", strings.Join(pending, ", "))
	}
	if disabled := s.m.DisabledServers(); len(disabled) > 0 {
		fmt.Fprintf(s.out, "disabled: %s\n", strings.Join(disabled, ", "))
	}
	if len(servers) == 0 {
		fmt.Fprintln(s.out, "No MCP servers loaded.")
	}
}
