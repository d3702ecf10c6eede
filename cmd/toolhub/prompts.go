package main

import (
	"fmt"
	"io"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PromptsCmd lists the prompts offered by the agent's servers.
type PromptsCmd struct {
	Args struct {
		Filter string `positional-arg-name:"filter" description:"Only prompts whose name contains this"`
	} `positional-args:"yes"`
}

func (c *PromptsCmd) Execute(args []string) error {
	m, _, err := cli.manager(false)
	if err != nil {
		return err
	}
	if _, err := m.LoadTools(cli.ctx); err != nil {
		return err
	}
	names, err := m.SearchPrompts(cli.ctx, c.Args.Filter)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stdout, "No prompts found.")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(os.Stdout, n)
	}
	return nil
}

// PromptCmd fetches one prompt and prints its messages.
type PromptCmd struct {
	Args struct {
		Name string   `required:"yes" positional-arg-name:"name" description:"Prompt name, or server/name"`
		Rest []string `positional-arg-name:"args" description:"Prompt arguments, in declaration order"`
	} `positional-args:"yes"`
}

func (c *PromptCmd) Execute(args []string) error {
	m, _, err := cli.manager(false)
	if err != nil {
		return err
	}
	if _, err := m.LoadTools(cli.ctx); err != nil {
		return err
	}
	res, err := m.GetPrompt(cli.ctx, c.Args.Name, c.Args.Rest)
	if err != nil {
		return err
	}
	printPrompt(os.Stdout, res)
	return nil
}

func printPrompt(w io.Writer, res *mcp.GetPromptResult) {
	if res.Description != "" {
		fmt.Fprintf(w, "# %s\n\n", res.Description)
	}
	for _, msg := range res.Messages {
		switch c := msg.Content.(type) {
		case *mcp.TextContent:
			fmt.Fprintf(w, "[%s] %s\n", msg.Role, c.Text)
		default:
			fmt.Fprintf(w, "[%s] (%T content)\n", msg.Role, c)
		}
	}
}
