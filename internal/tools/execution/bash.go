// Package execution implements the execute_bash native tool.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/sandbox"
)

const (
	maxOutputLines = 200
	maxOutputChars = 10000
	maxTimeout     = 10 * time.Minute
)

// runBash runs command through runner and encodes the outcome. A failing
// command is still a successful tool call; only runner errors that produce
// no result at all are returned.
func runBash(ctx context.Context, runner sandbox.Runner, root, command string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command must not be empty")
	}
	log.Debug(ctx, log.KV{K: "msg", V: "execute_bash"}, log.KV{K: "runner", V: runner.Name()}, log.KV{K: "cmd", V: command})

	res, err := runner.Run(ctx, root, command, timeout)
	timedOut := res.TimedOut || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !timedOut {
		return "", fmt.Errorf("failed to run command: %w", err)
	}

	stdout, stdoutTruncated := truncateTail(res.Stdout)
	stderr, stderrTruncated := truncateTail(res.Stderr)
	out := engine.ExecutionResult{
		Cmd:             command,
		ExitCode:        res.Code,
		Stdout:          stdout,
		Stderr:          stderr,
		StdoutTruncated: stdoutTruncated,
		StderrTruncated: stderrTruncated,
		TimedOut:        timedOut,
		Status:          "ok",
	}
	if timedOut || res.Code != 0 {
		out.Status = "failed"
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// truncateTail keeps the end of output, where errors usually are.
func truncateTail(output string) (string, bool) {
	if output == "" {
		return "", false
	}
	truncated := false
	lines := strings.Split(output, "\n")
	if len(lines) > maxOutputLines {
		lines = lines[len(lines)-maxOutputLines:]
		truncated = true
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > maxOutputChars {
		joined = joined[len(joined)-maxOutputChars:]
		truncated = true
	}
	return joined, truncated
}

func timeoutArg(v any) time.Duration {
	seconds, ok := v.(float64)
	if !ok || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, maxTimeout)
}

// NewBashTool returns execute_bash running commands in root through runner.
func NewBashTool(root string, runner sandbox.Runner) engine.Tool {
	return engine.Tool{
		Name: "execute_bash",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			return runBash(ctx, runner, root, command, timeoutArg(args["timeout_seconds"]))
		},
		Category: "execution",
	}
}
