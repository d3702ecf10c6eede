package todo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

// NewTool returns the todo_list tool backed by store.
func NewTool(store *Store) engine.Tool {
	return engine.Tool{
		Name: "todo_list",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			result, err := dispatch(ctx, store, args)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(result)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
		Category: "memory",
	}
}

func dispatch(ctx context.Context, store *Store, args map[string]any) (any, error) {
	id, _ := args["id"].(string)
	switch command, _ := args["command"].(string); command {
	case "create":
		description, _ := args["description"].(string)
		return store.Create(ctx, description, stringList(args["tasks"]))
	case "complete":
		note, _ := args["context"].(string)
		return store.Complete(ctx, id, intList(args["indices"]), note)
	case "add":
		return store.Add(ctx, id, stringList(args["tasks"]))
	case "remove":
		return store.Remove(ctx, id, intList(args["indices"]))
	case "load":
		return store.Load(ctx, id)
	case "lookup":
		return store.Lookup(ctx)
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intList(v any) []int {
	items, _ := v.([]any)
	out := make([]int, 0, len(items))
	for _, it := range items {
		if f, ok := it.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}
