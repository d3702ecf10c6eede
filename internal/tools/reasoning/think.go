// Package reasoning implements the thinking native tool.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

// think records thought in the debug log. The model gets an acknowledgement
// only: the value of the call is the thought itself, already in the
// conversation.
func think(ctx context.Context, thought string) (string, error) {
	if strings.TrimSpace(thought) == "" {
		return "", fmt.Errorf("thought cannot be empty")
	}
	log.Debug(ctx, log.KV{K: "msg", V: "thinking"}, log.KV{K: "thought", V: thought})

	out, err := json.Marshal(map[string]any{"status": "noted"})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewThinkTool returns the thinking tool.
func NewThinkTool() engine.Tool {
	return engine.Tool{
		Name: "thinking",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			thought, ok := args["thought"].(string)
			if !ok {
				return "", fmt.Errorf("thought must be a string")
			}
			return think(ctx, thought)
		},
		Retryable: true,
		Category:  "meta",
	}
}
