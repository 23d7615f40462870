package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/layerctl/layerctl/pkg/dockerclient"
)

// muxedLogs frames output the way the daemon does for non-TTY containers.
func muxedLogs(t *testing.T, stdout, stderr string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	if stdout != "" {
		_, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
		require.NoError(t, err)
	}
	if stderr != "" {
		_, err := stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
		require.NoError(t, err)
	}
	return io.NopCloser(&buf)
}

func waitWith(code int64) func(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return func(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
		statusCh := make(chan container.WaitResponse, 1)
		statusCh <- container.WaitResponse{StatusCode: code}
		return statusCh, make(chan error)
	}
}

func TestRun_DefaultCommandNoArgs(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PAYCOR_USERNAME=alice\nPAYCOR_PASSWORD=hunter22\n"), 0600))

	var stdout, stderr bytes.Buffer
	gomock.InOrder(
		cli.EXPECT().ContainerCreate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Nil(), gomock.Any(), "layerctl-bot-1").
			DoAndReturn(func(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, p *v1.Platform, _ string) (container.CreateResponse, error) {
				assert.Equal(t, "layerctl-bot:latest", cfg.Image)
				assert.Nil(t, cfg.Cmd, "the image's own default command must be used")
				assert.Nil(t, cfg.Entrypoint)
				assert.Equal(t, []string{"DEBUG=1", "PAYCOR_PASSWORD=hunter22", "PAYCOR_USERNAME=alice"}, cfg.Env)
				assert.Equal(t, "run-1", cfg.Labels[LabelRun])
				assert.Contains(t, cfg.ExposedPorts, nat.Port("80/tcp"))
				assert.Equal(t, "8080", host.PortBindings[nat.Port("80/tcp")][0].HostPort)
				require.NotNil(t, p)
				assert.Equal(t, "amd64", p.Architecture)
				return container.CreateResponse{ID: "0123456789abcdef"}, nil
			}),
		cli.EXPECT().ContainerStart(gomock.Any(), "0123456789abcdef", gomock.Any()).Return(nil),
		cli.EXPECT().ContainerLogs(gomock.Any(), "0123456789abcdef", gomock.Any()).Return(muxedLogs(t, "logged in\n", "warning: slow\n"), nil),
		cli.EXPECT().ContainerWait(gomock.Any(), "0123456789abcdef", container.WaitConditionNotRunning).DoAndReturn(waitWith(0)),
		cli.EXPECT().ContainerRemove(gomock.Any(), "0123456789abcdef", container.RemoveOptions{Force: true}).Return(nil),
	)

	res, err := Run(context.Background(), cli, RunOptions{
		Image:    "layerctl-bot:latest",
		Name:     "layerctl-bot-1",
		RunID:    "run-1",
		EnvFile:  envFile,
		Env:      map[string]string{"DEBUG": "1"},
		Publish:  []string{"8080:80"},
		Platform: "linux/amd64",
		Stdout:   &stdout,
		Stderr:   &stderr,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
	assert.Equal(t, "logged in\n", stdout.String())
	assert.Equal(t, "warning: slow\n", stderr.String())
	assert.ElementsMatch(t, []string{"logged in", "warning: slow"}, res.Output)
}

func TestRun_ModuleMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)

	cli.EXPECT().ContainerCreate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(container.CreateResponse{ID: "c1"}, nil)
	cli.EXPECT().ContainerStart(gomock.Any(), "c1", gomock.Any()).Return(nil)
	cli.EXPECT().ContainerLogs(gomock.Any(), "c1", gomock.Any()).
		Return(muxedLogs(t, "", "/usr/local/bin/python: No module named paycorbot\n"), nil)
	cli.EXPECT().ContainerWait(gomock.Any(), "c1", gomock.Any()).DoAndReturn(waitWith(1))
	cli.EXPECT().ContainerRemove(gomock.Any(), "c1", gomock.Any()).Return(nil)

	res, err := Run(context.Background(), cli, RunOptions{Image: "layerctl-bot:latest", Stdout: io.Discard, Stderr: io.Discard})
	require.ErrorIs(t, err, ErrModuleFailed)
	assert.Equal(t, int64(1), res.ExitCode)
	assert.Equal(t, []string{"/usr/local/bin/python: No module named paycorbot"}, res.Output)
}

func TestRun_KeepSkipsRemove(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)

	cli.EXPECT().ContainerCreate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Nil(), gomock.Any()).
		Return(container.CreateResponse{ID: "c2"}, nil)
	cli.EXPECT().ContainerStart(gomock.Any(), "c2", gomock.Any()).Return(nil)
	cli.EXPECT().ContainerLogs(gomock.Any(), "c2", gomock.Any()).Return(muxedLogs(t, "", ""), nil)
	cli.EXPECT().ContainerWait(gomock.Any(), "c2", gomock.Any()).DoAndReturn(waitWith(0))

	_, err := Run(context.Background(), cli, RunOptions{Image: "img", Keep: true, Stdout: io.Discard, Stderr: io.Discard})
	require.NoError(t, err)
}

func TestRun_StartFailureRemoves(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)

	cli.EXPECT().ContainerCreate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(container.CreateResponse{ID: "c3"}, nil)
	cli.EXPECT().ContainerStart(gomock.Any(), "c3", gomock.Any()).Return(errors.New("port already allocated"))
	cli.EXPECT().ContainerRemove(gomock.Any(), "c3", gomock.Any()).Return(nil)

	_, err := Run(context.Background(), cli, RunOptions{Image: "img"})
	assert.ErrorContains(t, err, "starting container")
}

func TestRun_InvalidInputs(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	ctx := context.Background()

	_, err := Run(ctx, cli, RunOptions{})
	assert.ErrorContains(t, err, "image is required")

	_, err = Run(ctx, cli, RunOptions{Image: "img", EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	assert.ErrorContains(t, err, "reading env file")

	_, err = Run(ctx, cli, RunOptions{Image: "img", Publish: []string{"notaport:80"}})
	assert.ErrorContains(t, err, "parsing publish spec")

	_, err = Run(ctx, cli, RunOptions{Image: "img", Platform: "amd64"})
	assert.Error(t, err)
}

func TestLoadEnvFile_Empty(t *testing.T) {
	env, err := LoadEnvFile("")
	require.NoError(t, err)
	assert.Empty(t, env)
}
