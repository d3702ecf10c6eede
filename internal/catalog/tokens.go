package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

// EstimateTokens approximates how many prompt tokens text costs: about four
// characters per token, plus one per six whitespace characters. Non-empty
// text costs at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ws := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")
	return max(len([]rune(text))/4+ws/6, 1)
}

// Cost is the estimated prompt size of one tool definition.
type Cost struct {
	Name   toolmgr.ModelToolName
	Tokens int
}

// Costs estimates what each tool adds to a request when the catalog is sent
// to a model, largest first, and returns the total.
func Costs(specs []toolmgr.ToolSpec) ([]Cost, int) {
	out := make([]Cost, 0, len(specs))
	total := 0
	for _, s := range specs {
		n := EstimateTokens(s.Name) + EstimateTokens(s.Description) + EstimateTokens(string(s.InputSchema))
		out = append(out, Cost{Name: s.Name, Tokens: n})
		total += n
	}
	slices.SortFunc(out, func(a, b Cost) int {
		if c := cmp.Compare(b.Tokens, a.Tokens); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, total
}
