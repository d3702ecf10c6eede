package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

type writeResult struct {
	Path    string `json:"path"`
	Command string `json:"command"`
	Summary string `json:"summary,omitempty"`
	Lines   int    `json:"line_count"`
}

// writeFile applies one fs_write command to path and reports the new size.
func writeFile(fsys FileSystem, root string, args map[string]any) (string, error) {
	command, path := stringArg(args, "command"), stringArg(args, "path")
	full, err := resolve(root, path)
	if err != nil {
		return "", err
	}
	if err := writable(root, full, path); err != nil {
		return "", err
	}

	var content string
	switch command {
	case "create":
		content = stringArg(args, "file_text")
	case "str_replace", "insert", "append":
		data, err := fsys.ReadFile(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && command == "append" {
				data = nil
			} else {
				return "", fmt.Errorf("failed to read %s: %w", path, err)
			}
		}
		content, err = edit(command, string(data), args)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown command %q", command)
	}

	if err := fsys.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := fsys.WriteFile(full, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	out, err := json.Marshal(writeResult{
		Path:    path,
		Command: command,
		Summary: stringArg(args, "summary"),
		Lines:   strings.Count(content, "\n") + 1,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func edit(command, current string, args map[string]any) (string, error) {
	newStr := stringArg(args, "new_str")
	switch command {
	case "str_replace":
		oldStr := stringArg(args, "old_str")
		if oldStr == "" {
			return "", fmt.Errorf("old_str must not be empty")
		}
		switch n := strings.Count(current, oldStr); n {
		case 0:
			return "", fmt.Errorf("no occurrence of old_str found")
		case 1:
			return strings.Replace(current, oldStr, newStr, 1), nil
		default:
			return "", fmt.Errorf("%d occurrences of old_str found, it must be unique", n)
		}
	case "insert":
		lines := strings.SplitAfter(current, "\n")
		if lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		at := intArg(args, "insert_line", 0)
		if at < 0 || at > len(lines) {
			return "", fmt.Errorf("insert_line %d is out of range 0..%d", at, len(lines))
		}
		if !strings.HasSuffix(newStr, "\n") {
			newStr += "\n"
		}
		if at > 0 && !strings.HasSuffix(lines[at-1], "\n") {
			lines[at-1] += "\n"
		}
		return strings.Join(lines[:at], "") + newStr + strings.Join(lines[at:], ""), nil
	default: // append
		if current != "" && !strings.HasSuffix(current, "\n") {
			current += "\n"
		}
		return current + newStr, nil
	}
}

// NewWriteTool returns fs_write rooted at root.
func NewWriteTool(root string, fsys FileSystem) engine.Tool {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return engine.Tool{
		Name: "fs_write",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return writeFile(fsys, root, args)
		},
		Category: "filesystem",
	}
}
