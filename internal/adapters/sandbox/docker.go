package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

// DockerConfig tunes the out-of-process executor.
type DockerConfig struct {
	Image     string        // snippet runtime image
	Timeout   time.Duration // wall clock per Run
	WorkDir   string        // host scratch root for per-run workspaces
	MaxOutput int           // captured stdout cap in bytes
}

// DockerExecutor runs each snippet as Python inside a throwaway container:
// no network, read-only rootfs, the corpus mounted read-only as JSON. It
// proves the executor port is independent of the execution technology. The
// recursive llm_query binding is a logged placeholder here — no callable
// crosses the process boundary.
type DockerExecutor struct {
	logger *slog.Logger
	cli    *client.Client
	cfg    DockerConfig
}

func NewDockerExecutor(logger *slog.Logger, cfg DockerConfig) (*DockerExecutor, error) {
	if cfg.Image == "" {
		cfg.Image = "python:3.12-alpine"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "replagent-sandbox")
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 8192
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerExecutor{logger: logger, cli: cli, cfg: cfg}, nil
}

var _ ports.Executor = (*DockerExecutor)(nil)

func (e *DockerExecutor) Language() string { return "python" }

// snippetPreamble loads the mounted corpus and defines the tool surface the
// system frame promises. State does not persist between Run calls in this
// executor — every snippet starts from the same preamble.
const snippetPreamble = `import json, re

with open("/workspace/context.json") as _f:
    _ctx = json.load(_f)
context = _ctx["documents"]
doc_ids = _ctx["doc_ids"]

def search(pattern, max_results=50):
    out = []
    rx = re.compile(pattern, re.IGNORECASE)
    for _id, _doc in zip(doc_ids, context):
        for _n, _line in enumerate(_doc.splitlines(), 1):
            if rx.search(_line):
                out.append("%s:%d: %s" % (_id, _n, _line.strip()))
                if len(out) >= max_results:
                    return out
    return out

def llm_query(prompt, docs=None):
    return "[sub-query unavailable in the docker sandbox]"

`

// Run writes the snippet and corpus into a scratch workspace, executes it in
// a locked-down container, and captures its output. Timeouts and snippet
// faults are reported inside the result; only setup failures surface as Go
// errors.
func (e *DockerExecutor) Run(ctx context.Context, code string, env ports.Environment) (domain.ExecutionResult, error) {
	workspace := filepath.Join(e.cfg.WorkDir, uuid.New().String())
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to create sandbox workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := e.writeWorkspace(workspace, code, env); err != nil {
		return domain.ExecutionResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cfg := &container.Config{
		Image:           e.cfg.Image,
		Cmd:             []string{"python3", "/workspace/snippet.py"},
		NetworkDisabled: true,
		Env: []string{
			"PYTHONDONTWRITEBYTECODE=1",
			"PYTHONUNBUFFERED=1",
		},
		Labels: map[string]string{"replagent.managed": "true"},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   workspace,
				Target:   "/workspace",
				ReadOnly: true,
			},
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}

	name := "replagent-sandbox-" + uuid.New().String()
	resp, err := e.cli.ContainerCreate(runCtx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := e.cli.ImagePull(runCtx, e.cfg.Image, image.PullOptions{})
		if pullErr != nil {
			return domain.ExecutionResult{}, fmt.Errorf("failed to pull image %s: %w", e.cfg.Image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = e.cli.ContainerCreate(runCtx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to create sandbox container: %w", err)
	}

	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		if err := e.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Warn("failed to remove sandbox container", "container", resp.ID, "error", err)
		}
	}()

	if err := e.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	waitCh, errCh := e.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case wait := <-waitCh:
		exitCode = wait.StatusCode
	case err := <-errCh:
		if runCtx.Err() != nil {
			return domain.ExecutionResult{
				Success:   false,
				ErrorKind: domain.ExecErrTimeout,
				ErrorText: fmt.Sprintf("execution exceeded %s wall-clock budget", e.cfg.Timeout),
			}, nil
		}
		return domain.ExecutionResult{}, fmt.Errorf("sandbox container wait failed: %w", err)
	}

	stdout, stderr, err := e.collectLogs(resp.ID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	if exitCode != 0 {
		detail := stderr
		if detail == "" {
			detail = fmt.Sprintf("snippet exited with code %d", exitCode)
		}
		return domain.ExecutionResult{
			Output:    stdout,
			ErrorText: detail,
			Success:   false,
			ErrorKind: domain.ExecErrRuntimeFault,
		}, nil
	}

	return domain.ExecutionResult{Output: stdout, Success: true}, nil
}

func (e *DockerExecutor) writeWorkspace(workspace, code string, env ports.Environment) error {
	contents := make([]string, len(env.Documents))
	ids := make([]string, len(env.Documents))
	for i, doc := range env.Documents {
		contents[i] = doc.Content
		ids[i] = string(doc.ID)
	}
	payload, err := json.Marshal(map[string]any{
		"documents": contents,
		"doc_ids":   ids,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal corpus: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "context.json"), payload, 0o644); err != nil {
		return fmt.Errorf("failed to write corpus: %w", err)
	}
	snippet := snippetPreamble + code + "\n"
	if err := os.WriteFile(filepath.Join(workspace, "snippet.py"), []byte(snippet), 0o644); err != nil {
		return fmt.Errorf("failed to write snippet: %w", err)
	}
	return nil
}

func (e *DockerExecutor) collectLogs(containerID string) (stdout, stderr string, err error) {
	logCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := e.cli.ContainerLogs(logCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to read sandbox logs: %w", err)
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, rc); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex sandbox logs: %w", err)
	}

	stdout = outBuf.String()
	if len(stdout) > e.cfg.MaxOutput {
		stdout = stdout[:e.cfg.MaxOutput] + "\n... (output truncated)"
	}
	stderr = errBuf.String()
	if len(stderr) > e.cfg.MaxOutput/2 {
		stderr = stderr[:e.cfg.MaxOutput/2] + "\n... (stderr truncated)"
	}
	return stdout, stderr, nil
}
