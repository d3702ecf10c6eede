// Package sandbox runs shell commands for the execute_bash tool, inside a
// throwaway container when docker is reachable and on the host otherwise.
package sandbox

import (
	"context"
	"time"
)

// Result captures the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Runner executes a command line in a working directory.
type Runner interface {
	// Run executes script with "sh -c" in dir. A non-positive timeout uses
	// the runner's default.
	Run(ctx context.Context, dir, script string, timeout time.Duration) (Result, error)
	// Name identifies the runner in logs and tool output.
	Name() string
}
