package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ChamsBouzaiene/toolhub/internal/catalog"
	"github.com/ChamsBouzaiene/toolhub/internal/providers"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

// ToolsCmd prints the merged tool catalog of the selected agent.
type ToolsCmd struct {
	Search string `short:"s" long:"search" description:"Full-text search over tool names and descriptions"`
	Origin string `long:"origin" description:"Only tools of this origin (native or a server name)"`
	Limit  int    `long:"limit" default:"10" description:"Maximum number of search hits"`
	Tokens bool   `long:"tokens" description:"Show the estimated prompt tokens of each tool instead"`
	Format string `short:"f" long:"format" default:"table" choice:"table" choice:"json" choice:"openai" choice:"anthropic" description:"Output format"`
}

func (c *ToolsCmd) Execute(args []string) error {
	m, _, err := cli.manager(false)
	if err != nil {
		return err
	}
	schema, err := m.LoadTools(cli.ctx)
	if err != nil {
		return err
	}
	specs := toolmgr.SortedSpecs(schema)

	if c.Search != "" || c.Origin != "" {
		if specs, err = search(specs, c.Search, c.Origin, c.Limit); err != nil {
			return err
		}
	}
	if c.Tokens {
		printCosts(os.Stdout, specs)
		return nil
	}
	return printSpecs(os.Stdout, specs, c.Format)
}

func printCosts(w io.Writer, specs []toolmgr.ToolSpec) {
	costs, total := catalog.Costs(specs)
	rows := make([][]string, 0, len(costs)+1)
	for _, c := range costs {
		rows = append(rows, []string{c.Name, fmt.Sprintf("~%d", c.Tokens)})
	}
	fmt.Fprintln(w, table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TOOL", "TOKENS").
		Rows(rows...).
		String())
	fmt.Fprintf(w, "%d tools, ~%d tokens in total\n", len(costs), total)
}

func search(specs []toolmgr.ToolSpec, q, origin string, limit int) ([]toolmgr.ToolSpec, error) {
	if q == "" {
		out := specs[:0:0]
		for _, s := range specs {
			if s.Origin.String() == origin {
				out = append(out, s)
			}
		}
		return out, nil
	}
	idx, err := catalog.New(specs)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	hits, err := idx.Search(q, origin, limit)
	if err != nil {
		return nil, err
	}
	out := make([]toolmgr.ToolSpec, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Spec)
	}
	return out, nil
}

func printSpecs(w io.Writer, specs []toolmgr.ToolSpec, format string) error {
	var v any
	switch format {
	case "json":
		v = specs
	case "openai":
		tools, err := providers.OpenAITools(specs)
		if err != nil {
			return err
		}
		v = tools
	case "anthropic":
		tools, err := providers.AnthropicTools(specs)
		if err != nil {
			return err
		}
		v = tools
	default:
		_, err := fmt.Fprintln(w, specTable(specs))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func specTable(specs []toolmgr.ToolSpec) string {
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, []string{s.Name, s.Origin.String(), firstLine(s.Description, 72)})
	}
	header := lipgloss.NewStyle().Bold(true)
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return lipgloss.NewStyle()
		}).
		Headers("TOOL", "ORIGIN", "DESCRIPTION").
		Rows(rows...).
		String()
}

// firstLine returns the first line of s, cut to n runes.
func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
