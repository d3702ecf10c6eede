package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"goa.design/clue/log"
)

const workdir = "/workspace"

// DockerRunner runs each command in a fresh locked-down container with the
// working directory bind-mounted at /workspace.
type DockerRunner struct {
	client *client.Client
	config Config
}

// NewDockerRunner connects to the daemon described by the DOCKER_* variables.
func NewDockerRunner(ctx context.Context, cfg Config) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pctx); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return &DockerRunner{client: cli, config: cfg}, nil
}

func (r *DockerRunner) Name() string { return "docker:" + r.config.Image }

func (r *DockerRunner) Run(ctx context.Context, dir, script string, timeout time.Duration) (Result, error) {
	if err := r.ensureImage(ctx, r.config.Image); err != nil {
		return Result{}, fmt.Errorf("failed to ensure image %s: %w", r.config.Image, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	cfg := &container.Config{
		Image:           r.config.Image,
		Cmd:             []string{"sh", "-c", script},
		WorkingDir:      workdir,
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: !r.config.Network,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{Type: mount.TypeBind, Source: absDir, Target: workdir}},
		Resources: container.Resources{
			Memory:   r.config.MemoryBytes(),
			NanoCPUs: r.config.NanoCPUs(),
			Ulimits:  []*units.Ulimit{{Name: "nofile", Soft: 1024, Hard: 1024}},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=100m"},
	}

	created, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	id := created.ID
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.client.ContainerRemove(rctx, id, container.RemoveOptions{Force: true}); err != nil {
			log.Debug(ctx, log.KV{K: "msg", V: "container cleanup failed"}, log.KV{K: "id", V: id}, log.KV{K: "err", V: err.Error()})
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, r.config.timeout(timeout))
	defer cancel()
	if err := r.client.ContainerStart(execCtx, id, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(execCtx, id, container.WaitConditionNotRunning)
	var code int64
	select {
	case <-execCtx.Done():
		kctx, kcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer kcancel()
		_ = r.client.ContainerKill(kctx, id, "SIGKILL")
		return Result{Code: 1, TimedOut: true, Stderr: "command timed out"}, execCtx.Err()
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("failed waiting for container: %w", err)
		}
	case status := <-statusCh:
		code = status.StatusCode
	}

	logs, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Code: int(code)}, nil
}

// ensureImage pulls name unless it is already present.
func (r *DockerRunner) ensureImage(ctx context.Context, name string) error {
	if _, err := r.client.ImageInspect(ctx, name); err == nil {
		return nil
	}
	log.Info(ctx, log.KV{K: "msg", V: "pulling sandbox image"}, log.KV{K: "image", V: name})
	reader, err := r.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
