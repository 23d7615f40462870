package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/image"

	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/logging"
)

// EnsureImage pulls the image if it doesn't exist locally.
func EnsureImage(ctx context.Context, cli dockerclient.DockerClient, imageName, platform string, logger *slog.Logger) error {
	logger = logging.OrDiscard(logger)

	exists, err := ImageExists(ctx, cli, imageName)
	if err != nil {
		return err
	}
	if exists {
		logger.Debug("image present", "image", imageName)
		return nil
	}

	logger.Info("pulling image", "image", imageName)
	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{Platform: platform})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer reader.Close()

	if err := streamPullProgress(reader, logger); err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	return nil
}

// pullProgress represents a Docker pull progress message.
type pullProgress struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Error  string `json:"error"`
}

// streamPullProgress logs layer completion and surfaces pull errors reported
// in-band by the daemon.
func streamPullProgress(reader io.Reader, logger *slog.Logger) error {
	decoder := json.NewDecoder(reader)

	for {
		var p pullProgress
		if err := decoder.Decode(&p); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decoding pull output: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("%s", p.Error)
		}
		if p.Status == "Pull complete" || p.Status == "Already exists" {
			logger.Debug("layer", "id", p.ID, "status", p.Status)
		}
	}

	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// ImageExists checks if an image exists locally by tag or ID.
func ImageExists(ctx context.Context, cli dockerclient.DockerClient, imageName string) (bool, error) {
	images, err := cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}

	for _, img := range images {
		if img.ID == imageName {
			return true, nil
		}
		for _, tag := range img.RepoTags {
			if tag == imageName || tag == imageName+":latest" {
				return true, nil
			}
		}
	}
	return false, nil
}
