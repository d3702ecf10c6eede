package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/go-units"
	"goa.design/clue/log"
)

// Mode selects where commands run.
type Mode string

const (
	ModeDocker Mode = "docker"
	ModeHost   Mode = "host"
	// ModeAuto uses docker when the daemon answers and the host otherwise.
	ModeAuto Mode = "auto"
)

const (
	defaultCmdTimeout = 2 * time.Minute
	defaultImage      = "alpine:latest"
	defaultMemory     = "1g"
	defaultCPU        = "2"
)

// Config holds sandbox settings read from TOOLHUB_* variables.
type Config struct {
	Mode       Mode
	Image      string
	CPU        string // Number of CPUs, e.g. "1.5"
	Memory     string // Memory limit in docker notation, e.g. "512m"
	CmdTimeout time.Duration
	Network    bool // Allow network access inside the container
}

// ConfigFromEnv reads the sandbox configuration from the environment.
func ConfigFromEnv(ctx context.Context) Config {
	cfg := Config{
		Mode:       ModeAuto,
		Image:      envOr("TOOLHUB_DOCKER_IMAGE", defaultImage),
		CPU:        envOr("TOOLHUB_DOCKER_CPU", defaultCPU),
		Memory:     envOr("TOOLHUB_DOCKER_MEMORY", defaultMemory),
		CmdTimeout: defaultCmdTimeout,
		Network:    os.Getenv("TOOLHUB_DOCKER_NETWORK") == "1",
	}

	switch mode := Mode(strings.ToLower(os.Getenv("TOOLHUB_SANDBOX_MODE"))); mode {
	case "":
	case ModeDocker, ModeHost, ModeAuto:
		cfg.Mode = mode
	default:
		log.Warn(ctx, log.KV{K: "msg", V: "unknown sandbox mode, using auto"}, log.KV{K: "mode", V: mode})
	}

	if v := os.Getenv("TOOLHUB_CMD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Warn(ctx, log.KV{K: "msg", V: "invalid TOOLHUB_CMD_TIMEOUT, using default"}, log.KV{K: "value", V: v})
		} else {
			cfg.CmdTimeout = d
		}
	}
	return cfg
}

// MemoryBytes parses Memory, falling back to the default limit.
func (c Config) MemoryBytes() int64 {
	if n, err := units.RAMInBytes(c.Memory); err == nil && n > 0 {
		return n
	}
	n, _ := units.RAMInBytes(defaultMemory)
	return n
}

// NanoCPUs converts CPU to the unit docker expects.
func (c Config) NanoCPUs() int64 {
	var cpus float64
	if _, err := fmt.Sscanf(strings.TrimSpace(c.CPU), "%g", &cpus); err != nil || cpus <= 0 {
		cpus = 2
	}
	return int64(cpus * 1e9)
}

func (c Config) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if c.CmdTimeout > 0 {
		return c.CmdTimeout
	}
	return defaultCmdTimeout
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// dockerAvailable reports whether the docker CLI can reach a daemon.
func dockerAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}").Run() == nil
}

// NewRunner picks a runner for cfg. Docker failures fall back to the host
// runner with a warning, so a command can always run.
func NewRunner(ctx context.Context, cfg Config) Runner {
	host := &HostRunner{config: cfg}
	switch cfg.Mode {
	case ModeHost:
		log.Warn(ctx, log.KV{K: "msg", V: "sandbox disabled, commands run on the host"})
		return host
	case ModeDocker, ModeAuto:
		if !dockerAvailable(ctx) {
			log.Warn(ctx, log.KV{K: "msg", V: "docker not available, commands run on the host"}, log.KV{K: "mode", V: cfg.Mode})
			return host
		}
		r, err := NewDockerRunner(ctx, cfg)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "docker runner unavailable, commands run on the host"}, log.KV{K: "err", V: err.Error()})
			return host
		}
		return r
	}
	return host
}
