package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/layerctl/layerctl/pkg/dockerclient"
)

func TestImageExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	cli.EXPECT().ImageList(gomock.Any(), gomock.Any()).Return([]image.Summary{
		{ID: "sha256:abc", RepoTags: []string{"python:3.12-slim"}},
		{ID: "sha256:def", RepoTags: []string{"layerctl-bot:latest"}},
	}, nil).Times(4)

	ctx := context.Background()
	for name, want := range map[string]bool{
		"python:3.12-slim": true,
		"layerctl-bot":     true,
		"sha256:abc":       true,
		"python:3.11":      false,
	} {
		got, err := ImageExists(ctx, cli, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestImageExists_ListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	cli.EXPECT().ImageList(gomock.Any(), gomock.Any()).Return(nil, errors.New("daemon down"))

	_, err := ImageExists(context.Background(), cli, "python:3.12-slim")
	assert.ErrorContains(t, err, "listing images")
}

func TestEnsureImage_Present(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	cli.EXPECT().ImageList(gomock.Any(), gomock.Any()).Return([]image.Summary{
		{RepoTags: []string{"python:3.12-slim"}},
	}, nil)

	require.NoError(t, EnsureImage(context.Background(), cli, "python:3.12-slim", "", nil))
}

func TestEnsureImage_Pulls(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	cli.EXPECT().ImageList(gomock.Any(), gomock.Any()).Return(nil, nil)
	cli.EXPECT().ImagePull(gomock.Any(), "python:3.12-slim", image.PullOptions{Platform: "linux/amd64"}).
		Return(io.NopCloser(strings.NewReader(
			`{"status":"Pulling fs layer","id":"a1"}`+"\n"+
				`{"status":"Pull complete","id":"a1"}`+"\n")), nil)

	require.NoError(t, EnsureImage(context.Background(), cli, "python:3.12-slim", "linux/amd64", nil))
}

func TestEnsureImage_PullErrorInStream(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	cli.EXPECT().ImageList(gomock.Any(), gomock.Any()).Return(nil, nil)
	cli.EXPECT().ImagePull(gomock.Any(), "python:9.99", gomock.Any()).
		Return(io.NopCloser(strings.NewReader(`{"error":"manifest for python:9.99 not found"}`)), nil)

	err := EnsureImage(context.Background(), cli, "python:9.99", "", nil)
	assert.ErrorContains(t, err, "manifest for python:9.99 not found")
}

func TestEnsureImage_PullRequestFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	cli := dockerclient.NewMockDockerClient(ctrl)
	cli.EXPECT().ImageList(gomock.Any(), gomock.Any()).Return(nil, nil)
	cli.EXPECT().ImagePull(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("no route to registry"))

	err := EnsureImage(context.Background(), cli, "python:3.12-slim", "", nil)
	assert.ErrorContains(t, err, "pulling image python:3.12-slim")
}
