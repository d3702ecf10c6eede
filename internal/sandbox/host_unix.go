//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// HostRunner runs commands directly on the host. There is no isolation.
type HostRunner struct {
	config Config
}

// NewHostRunner returns a host runner using cfg's default timeout.
func NewHostRunner(cfg Config) *HostRunner {
	return &HostRunner{config: cfg}
}

func (r *HostRunner) Name() string { return "host" }

func (r *HostRunner) Run(ctx context.Context, dir, script string, timeout time.Duration) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, r.config.timeout(timeout))
	defer cancel()

	cmd := exec.Command("sh", "-c", script)
	cmd.Dir = dir
	// Own process group so the whole tree can be killed on timeout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		case <-done:
		}
	}()
	waitErr := cmd.Wait()
	close(done)

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cctx.Err() != nil {
		res.TimedOut = true
	}
	if waitErr == nil {
		return res, nil
	}
	res.Code = 1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.Code = exitErr.ExitCode()
		if res.Code < 0 {
			res.Code = 1
		}
		// A non-zero exit is a result, not a runner failure
		if !res.TimedOut {
			return res, nil
		}
	}
	return res, waitErr
}
