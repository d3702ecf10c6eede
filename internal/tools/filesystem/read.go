package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

const (
	maxDirEntries       = 1000
	defaultContextLines = 2
)

// readLines returns lines start..end of the file, both inclusive and 1-based.
// Negative positions count from the end, -1 being the last line.
func readLines(fsys FileSystem, root, path string, start, end int) (string, error) {
	full, err := resolve(root, path)
	if err != nil {
		return "", err
	}
	data, err := fsys.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return "", nil
	}
	lines := strings.Split(content, "\n")
	n := len(lines)

	from, to := linePos(start, n), linePos(end, n)
	if from > to {
		return "", fmt.Errorf("start_line %d is after end_line %d in a file of %d lines", start, end, n)
	}
	return strings.Join(lines[from-1:to], "\n"), nil
}

func linePos(v, n int) int {
	if v < 0 {
		v = n + v + 1
	}
	return min(max(v, 1), n)
}

// listDir renders the entries under path up to depth levels below it, one per
// line. Directories end with a slash. Entries matched by a .gitignore found
// in the working directory or in path are skipped.
func listDir(fsys FileSystem, root, path string, depth int) (string, error) {
	full, err := resolve(root, path)
	if err != nil {
		return "", err
	}
	info, err := fsys.Stat(full)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}

	var patterns []string
	for _, dir := range []string{filepath.Clean(root), full} {
		if data, err := fsys.ReadFile(filepath.Join(dir, ".gitignore")); err == nil {
			patterns = append(patterns, strings.Split(string(data), "\n")...)
		}
	}
	ignore := gitignore.CompileIgnoreLines(patterns...)

	var out []string
	truncated := false
	var walk func(dir string, level int) error
	walk = func(dir string, level int) error {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if e.Name() == ".git" {
				continue
			}
			p := filepath.Join(dir, e.Name())
			rel, _ := filepath.Rel(full, p)
			if ignore.MatchesPath(rel) || (e.IsDir() && ignore.MatchesPath(rel+"/")) {
				continue
			}
			if len(out) >= maxDirEntries {
				truncated = true
				return nil
			}
			if e.IsDir() {
				out = append(out, rel+"/")
				if level < depth {
					if err := walk(p, level+1); err != nil {
						return err
					}
				}
				continue
			}
			line := rel
			if fi, err := e.Info(); err == nil && fi != nil {
				line = fmt.Sprintf("%s (%d bytes)", rel, fi.Size())
			}
			out = append(out, line)
		}
		return nil
	}
	if err := walk(full, 0); err != nil {
		return "", err
	}
	if truncated {
		out = append(out, fmt.Sprintf("... truncated after %d entries", maxDirEntries))
	}
	return strings.Join(out, "\n"), nil
}

type searchMatch struct {
	LineNumber int    `json:"line_number"`
	Context    string `json:"context"`
}

// searchFile finds the lines of path containing pattern, ignoring case.
func searchFile(fsys FileSystem, root, path, pattern string, contextLines int) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("pattern must not be empty")
	}
	full, err := resolve(root, path)
	if err != nil {
		return "", err
	}
	data, err := fsys.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	needle := strings.ToLower(pattern)

	matches := []searchMatch{}
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		from, to := max(i-contextLines, 0), min(i+contextLines, len(lines)-1)
		var b strings.Builder
		for j := from; j <= to; j++ {
			marker := " "
			if j == i {
				marker = "→"
			}
			fmt.Fprintf(&b, "%s %d: %s\n", marker, j+1, lines[j])
		}
		matches = append(matches, searchMatch{LineNumber: i + 1, Context: b.String()})
	}
	out, err := json.Marshal(matches)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewReadTool returns fs_read rooted at root.
func NewReadTool(root string, fsys FileSystem) engine.Tool {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return engine.Tool{
		Name: "fs_read",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path := stringArg(args, "path")
			switch mode := stringArg(args, "mode"); mode {
			case "Line":
				return readLines(fsys, root, path, intArg(args, "start_line", 1), intArg(args, "end_line", -1))
			case "Directory":
				return listDir(fsys, root, path, max(intArg(args, "depth", 0), 0))
			case "Search":
				return searchFile(fsys, root, path, stringArg(args, "pattern"), max(intArg(args, "context_lines", defaultContextLines), 0))
			default:
				return "", fmt.Errorf("unknown mode %q", mode)
			}
		},
		Retryable: true,
		Category:  "filesystem",
	}
}
