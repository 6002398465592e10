package docker

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/sandbox"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

const (
	workspaceDir   = "/workspace"
	maxLogBytes    = 1 << 20
	cleanupTimeout = 30 * time.Second
)

// RunnerConfig is the configuration for the Docker runner.
type RunnerConfig struct {
	Client DockerClient
	// Image must have a python interpreter.
	Image string
	// PullImage pulls the image before every run.
	PullImage bool
	MemoryMB  int64
	VCPUs     float64
	PidsLimit int64
	// WorkRoot is where the host working directories are created, defaults to the OS temp dir.
	WorkRoot string
	Logger   log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Image == "" {
		c.Image = "python:3.12-slim"
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = 512
	}
	if c.VCPUs <= 0 {
		c.VCPUs = 1
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = 256
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Docker"})
	return nil
}

// Runner runs reproducing scripts in ephemeral Docker containers without network.
type Runner struct {
	client    DockerClient
	image     string
	pull      bool
	memory    int64
	nanoCPUs  int64
	pidsLimit int64
	workRoot  string
	logger    log.Logger
}

// NewRunner creates a new Docker runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		client:    cfg.Client,
		image:     cfg.Image,
		pull:      cfg.PullImage,
		memory:    cfg.MemoryMB * 1024 * 1024,
		nanoCPUs:  int64(cfg.VCPUs * 1e9),
		pidsLimit: cfg.PidsLimit,
		workRoot:  cfg.WorkRoot,
		logger:    cfg.Logger,
	}, nil
}

// Run satisfies sandbox.Runner interface.
func (r *Runner) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	dir, err := os.MkdirTemp(r.workRoot, "taskforge-docker-")
	if err != nil {
		return nil, fmt.Errorf("could not create working directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := sandbox.WriteWorkdir(dir, req.Files); err != nil {
		return nil, err
	}

	if r.pull {
		r.logger.Infof("Pulling image: %s", r.image)
		pullResp, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", r.image, err)
		}
		// Consume the pull response to ensure it completes.
		_, _ = io.Copy(io.Discard, pullResp)
		pullResp.Close()
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	name := fmt.Sprintf("taskforge-%s", strings.ToLower(id))
	pids := r.pidsLimit

	resp, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:           r.image,
		Cmd:             []string{"python", req.ScriptName()},
		WorkingDir:      workspaceDir,
		User:            fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Env:             []string{"PYTHONDONTWRITEBYTECODE=1", "HOME=/tmp"},
		NetworkDisabled: true,
	}, &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{fmt.Sprintf("%s:%s", dir, workspaceDir)},
		Tmpfs:       map[string]string{"/tmp": "rw,size=64m"},
		Resources: container.Resources{
			Memory:    r.memory,
			NanoCPUs:  r.nanoCPUs,
			PidsLimit: &pids,
		},
	}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID
	logger := r.logger.WithValues(log.Kv{"container": name})

	// The container is removed on every exit path, even if the caller context is gone.
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := r.client.ContainerRemove(rctx, containerID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warningf("Could not remove container: %s", err)
		}
	}()

	start := time.Now()
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	wctx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	exitCode, err := r.wait(wctx, containerID)
	if err != nil {
		kctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = r.client.ContainerKill(kctx, containerID, "KILL")

		if errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warningf("Script timed out after %s", req.Timeout)
			return nil, &model.SandboxExecutionError{ExitCode: -1, Err: fmt.Errorf("script timed out after %s: %w", req.Timeout, context.DeadlineExceeded)}
		}
		return nil, err
	}
	duration := time.Since(start)

	stdout, stderr, err := r.logs(ctx, containerID)
	if err != nil {
		logger.Warningf("Could not read container logs: %s", err)
	}

	files, err := sandbox.ReadWorkdir(dir)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Script exited with code %d in %s", exitCode, duration)
	return &sandbox.Result{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Files:    files,
		Duration: duration,
	}, nil
}

func (r *Runner) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("container wait error: %w", err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, fmt.Errorf("container wait error: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (r *Runner) logs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	out, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer out.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, io.LimitReader(out, maxLogBytes)); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}
