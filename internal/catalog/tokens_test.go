package catalog

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short", text: "hi", want: 1},
		{name: "sixteen chars", text: "abcdefghijklmnop", want: 4},
		{name: "whitespace", text: strings.Repeat("ab ", 12), want: 9 + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestCosts(t *testing.T) {
	specs := []toolmgr.ToolSpec{
		{Name: "small", InputSchema: json.RawMessage(`{}`)},
		{Name: "large", Description: strings.Repeat("word ", 40), InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "also_small", InputSchema: json.RawMessage(`{}`)},
	}
	costs, total := Costs(specs)
	assert.Len(t, costs, 3)
	assert.Equal(t, "large", costs[0].Name)

	sum := 0
	for _, c := range costs {
		sum += c.Tokens
	}
	assert.Equal(t, total, sum)
}
