package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"

	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/logging"
	"github.com/layerctl/layerctl/pkg/plan"
)

// ImageOptions configures a single ImageBuild call.
type ImageOptions struct {
	Plan      *plan.Plan
	Tag       string
	Platform  string
	BuildArgs map[string]string
	Labels    map[string]string
	NoCache   bool
	OnStep    func(StepResult)
}

// BuildImage sends a prepared build context to the daemon and follows the
// build. The context must contain the plan's Dockerfile at plan.DockerfileName.
func BuildImage(ctx context.Context, cli dockerclient.DockerClient, buildContext io.Reader, opts ImageOptions, logger *slog.Logger) (string, []StepResult, error) {
	logger = logging.OrDiscard(logger)
	logger.Info("building image", "tag", opts.Tag)

	// Convert build args to the format Docker expects
	dockerBuildArgs := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		val := v
		dockerBuildArgs[k] = &val
	}

	resp, err := cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Dockerfile: plan.DockerfileName,
		Tags:       []string{opts.Tag},
		BuildArgs:  dockerBuildArgs,
		Labels:     opts.Labels,
		Platform:   opts.Platform,
		Remove:     true, // Remove intermediate containers
		NoCache:    opts.NoCache,
		// The classic builder reports per-step cache hits in its stream.
		Version: types.BuilderV1,
	})
	if err != nil {
		return "", nil, fmt.Errorf("building image: %w", err)
	}
	defer resp.Body.Close()

	return streamBuildOutput(resp.Body, opts.Plan, opts.OnStep, logger)
}

// buildOutput represents a Docker build output message.
type buildOutput struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux struct {
		ID string `json:"ID"`
	} `json:"aux"`
}

var (
	stepLine   = regexp.MustCompile(`^Step (\d+)/(\d+) : (.*)$`)
	builtLine  = regexp.MustCompile(`^Successfully built ([0-9a-f]+)$`)
	errNoImage = errors.New("build finished without an image ID")
)

const (
	usingCache  = "---> Using cache"
	nonZeroCode = "returned a non-zero code"
	tailLength  = 20
)

// streamBuildOutput follows the daemon's build stream, recording which steps
// were served from cache, and returns the image ID.
func streamBuildOutput(reader io.Reader, p *plan.Plan, onStep func(StepResult), logger *slog.Logger) (string, []StepResult, error) {
	logger = logging.OrDiscard(logger)
	decoder := json.NewDecoder(reader)
	tail := logging.NewTail(tailLength)

	var (
		imageID string
		steps   []StepResult
		current *StepResult
	)
	finish := func() {
		if current == nil {
			return
		}
		steps = append(steps, *current)
		if onStep != nil {
			onStep(*current)
		}
		current = nil
	}

	for {
		var output buildOutput
		if err := decoder.Decode(&output); err != nil {
			if err == io.EOF {
				break
			}
			return "", steps, fmt.Errorf("decoding build output: %w", err)
		}

		if output.Error != "" {
			msg := output.Error
			if output.ErrorDetail.Message != "" {
				msg = output.ErrorDetail.Message
			}
			tail.Add(msg)
			return "", steps, classify(current, msg, tail, logger)
		}

		if output.Aux.ID != "" {
			imageID = output.Aux.ID
		}

		if output.Stream == "" {
			continue
		}
		tail.Add(output.Stream)

		for _, line := range strings.Split(output.Stream, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if m := stepLine.FindStringSubmatch(line); m != nil {
				finish()
				idx, _ := strconv.Atoi(m[1])
				current = &StepResult{Index: idx, Instruction: m[3], Role: roleAt(p, idx)}
				logger.Debug("build step", "step", idx, "instruction", m[3])
				continue
			}
			if line == usingCache && current != nil {
				current.Cached = true
				continue
			}
			if m := builtLine.FindStringSubmatch(line); m != nil && imageID == "" {
				imageID = m[1]
			}
		}
	}
	finish()

	if imageID == "" {
		return "", steps, errNoImage
	}
	return imageID, steps, nil
}

// classify maps a failing step to its error category.
func classify(current *StepResult, msg string, tail *logging.Tail, logger *slog.Logger) error {
	be := &BuildError{Output: tail.Lines()}
	if current != nil {
		be.Step = current.Index
		be.Role = current.Role
	}

	switch be.Role {
	case plan.RoleBase:
		be.Err = fmt.Errorf("%w: %s", ErrBaseImageUnavailable, msg)
	case plan.RoleManager:
		be.Err = fmt.Errorf("%w: %s", ErrInstallerFailed, msg)
	case plan.RoleDependencies:
		be.Err = fmt.Errorf("%w: %s", ErrDependencyResolution, msg)
	default:
		be.Err = fmt.Errorf("build error: %s", msg)
	}

	logger.Error("build failed",
		"step", be.Step,
		"role", be.Role,
		"command_failed", strings.Contains(msg, nonZeroCode),
		"output", tail.String())
	return be
}

// roleAt returns the role of the 1-based step, or "" for steps the daemon
// appends itself (such as the label step).
func roleAt(p *plan.Plan, idx int) plan.Role {
	if p == nil || idx < 1 || idx > len(p.Steps) {
		return ""
	}
	return p.Steps[idx-1].Role
}
