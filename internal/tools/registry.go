package tools

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/sandbox"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/execution"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/knowledge"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/reasoning"
	"github.com/ChamsBouzaiene/toolhub/internal/tools/todo"
)

// dummyName is the placeholder the model sees for unknown tool names.
const dummyName = "dummy"

// Options carries what the native tools run against. A nil dependency
// leaves its tool out of the registry.
type Options struct {
	Root      string // Working directory for file and shell tools
	Runner    sandbox.Runner
	Knowledge *knowledge.Store
	Todos     *todo.Store
}

// NewRegistry builds the native tool registry. Every tool gets its
// description and schema from the embedded index.
func NewRegistry(opts Options) (engine.ToolRegistry, error) {
	idx, err := Index()
	if err != nil {
		return nil, err
	}
	if opts.Root == "" {
		opts.Root = "."
	}

	impls := []engine.Tool{
		dummy(),
		filesystem.NewReadTool(opts.Root, nil),
		filesystem.NewWriteTool(opts.Root, nil),
		reasoning.NewThinkTool(),
	}
	if opts.Runner != nil {
		impls = append(impls, execution.NewBashTool(opts.Root, opts.Runner))
	}
	if opts.Knowledge != nil {
		impls = append(impls, knowledge.NewTool(opts.Knowledge))
	}
	if opts.Todos != nil {
		impls = append(impls, todo.NewTool(opts.Todos))
	}

	reg := make(engine.ToolRegistry, len(impls)+1)
	for _, t := range impls {
		if err := define(&t, idx); err != nil {
			return nil, err
		}
		reg[t.Name] = t
	}
	intro := introspect(reg)
	if err := define(&intro, idx); err != nil {
		return nil, err
	}
	reg[intro.Name] = intro
	return reg, nil
}

func define(t *engine.Tool, idx map[string]IndexEntry) error {
	e, ok := idx[t.Name]
	if !ok {
		return fmt.Errorf("tool %s has no entry in the tool index", t.Name)
	}
	t.Description = e.Description
	t.SchemaJSON = string(e.InputSchema)
	return nil
}

func dummy() engine.Tool {
	return engine.Tool{
		Name: dummyName,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("the requested tool is not available, check the tool list and try again")
		},
		Category: "meta",
	}
}
