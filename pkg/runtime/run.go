// Package runtime runs built images and manages the images they start from.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/joho/godotenv"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/logging"
	"github.com/layerctl/layerctl/pkg/recipe"
)

// ErrModuleFailed is returned when the image's default command exits non-zero,
// including when the named module does not exist in the image.
var ErrModuleFailed = errors.New("application module failed")

// LabelRun marks containers started by layerctl.
const LabelRun = "layerctl.run"

// RunOptions configures a container run of a built image.
type RunOptions struct {
	Image    string
	Name     string            // Container name (empty lets the daemon choose)
	RunID    string            // Stored in the layerctl.run label
	EnvFile  string            // Optional dotenv file
	Env      map[string]string // Overrides values from EnvFile
	Publish  []string          // Port specs, e.g. "8080:80/tcp"
	Platform string
	Keep     bool // Leave the container in place after it exits

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// RunResult describes a finished run.
type RunResult struct {
	ContainerID string
	ExitCode    int64
	// Output holds the last lines the module wrote.
	Output []string
}

// LoadEnvFile reads a dotenv file. An empty path yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return env, nil
}

// Run starts the image with its own default command and no extra arguments,
// streams its output and waits for it to exit.
func Run(ctx context.Context, cli dockerclient.DockerClient, opts RunOptions) (*RunResult, error) {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	env, err := LoadEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	maps.Copy(env, opts.Env)

	exposed, bindings, err := nat.ParsePortSpecs(opts.Publish)
	if err != nil {
		return nil, fmt.Errorf("parsing publish spec: %w", err)
	}

	var platform *v1.Platform
	if opts.Platform != "" {
		if platform, err = recipe.ParsePlatform(opts.Platform); err != nil {
			return nil, err
		}
	}

	labels := map[string]string{LabelRun: "true"}
	if opts.RunID != "" {
		labels[LabelRun] = opts.RunID
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Env:          envSlice(env),
		Labels:       labels,
		ExposedPorts: exposed,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
	}

	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, platform, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := resp.ID
	logger = logger.With("container", shortID(id))
	for _, w := range resp.Warnings {
		logger.Warn("container warning", "warning", w)
	}

	if !opts.Keep {
		defer func() {
			rmCtx := context.WithoutCancel(ctx)
			if err := cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
				logger.Warn("removing container", "error", err)
			}
		}()
	}

	if err := cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}
	logger.Info("container started", "image", opts.Image)

	tail := logging.NewTail(20)
	logsDone := make(chan error, 1)
	logs, err := cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return nil, fmt.Errorf("attaching to logs: %w", err)
	}
	go func() {
		defer logs.Close()
		_, err := stdcopy.StdCopy(
			io.MultiWriter(writerOr(opts.Stdout, os.Stdout), tailWriter{tail}),
			io.MultiWriter(writerOr(opts.Stderr, os.Stderr), tailWriter{tail}),
			logs,
		)
		logsDone <- err
	}()

	statusCh, errCh := cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var code int64
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("waiting for container: %s", status.Error.Message)
		}
		code = status.StatusCode
	case err := <-errCh:
		return nil, fmt.Errorf("waiting for container: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-logsDone:
		if err != nil {
			logger.Warn("reading container output", "error", err)
		}
	case <-ctx.Done():
	}

	result := &RunResult{ContainerID: id, ExitCode: code, Output: tail.Lines()}
	if code != 0 {
		logger.Error("module exited", "exit_code", code, "output", tail.String())
		return result, fmt.Errorf("%w: exit code %d", ErrModuleFailed, code)
	}
	logger.Info("module exited", "exit_code", code)
	return result, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func writerOr(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

type tailWriter struct{ t *logging.Tail }

func (w tailWriter) Write(p []byte) (int, error) {
	w.t.Add(string(p))
	return len(p), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
