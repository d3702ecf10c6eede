package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

// CallCmd runs one tool from the catalog the way a model tool use would.
type CallCmd struct {
	Args struct {
		Tool  string `required:"yes" positional-arg-name:"tool" description:"Model-facing tool name"`
		Input string `positional-arg-name:"json" description:"Tool arguments as a JSON object"`
	} `positional-args:"yes"`
}

func (c *CallCmd) Execute(args []string) error {
	m, _, err := cli.manager(false)
	if err != nil {
		return err
	}
	if _, err := m.LoadTools(cli.ctx); err != nil {
		return err
	}
	res, err := callTool(cli.ctx, m, c.Args.Tool, c.Args.Input)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, res.Text())
	if res.IsError() {
		return fmt.Errorf("tool %s failed", c.Args.Tool)
	}
	return nil
}

// callTool resolves and invokes name with the raw JSON input. Resolution
// failures come back as error results, as they would for a model.
func callTool(ctx context.Context, m *toolmgr.Manager, name, input string) (engine.ToolResult, error) {
	if input == "" {
		input = "{}"
	}
	if !json.Valid([]byte(input)) {
		return engine.ToolResult{}, fmt.Errorf("tool arguments are not valid JSON: %s", input)
	}
	use := engine.ToolUse{ID: uuid.NewString(), Name: name, Args: json.RawMessage(input)}
	tool, res := m.ToolFromToolUse(ctx, use)
	if res != nil {
		return *res, nil
	}
	return tool.Invoke(ctx), nil
}
