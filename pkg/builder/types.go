package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/layerctl/layerctl/pkg/buildctx"
	"github.com/layerctl/layerctl/pkg/plan"
	"github.com/layerctl/layerctl/pkg/recipe"
)

// Build failure categories. All are fatal and none is retried.
var (
	ErrBaseImageUnavailable = errors.New("base image unavailable")
	ErrInstallerFailed      = errors.New("dependency manager installer failed")
	ErrDependencyResolution = errors.New("dependency resolution failed")
	ErrManifestMissing      = buildctx.ErrManifestMissing
)

// Image labels written on every build.
const (
	LabelRecipe        = "layerctl.recipe"
	LabelDepsDigest    = "layerctl.deps-digest"
	LabelSourceDigest  = "layerctl.source-digest"
	LabelSchemaVersion = "layerctl.schema-version"
	LabelModule        = "layerctl.module"

	SchemaVersion = "1"
)

// BuildOptions contains options for building an image.
type BuildOptions struct {
	Recipe *recipe.Recipe

	// ContextDir overrides the recipe's source.
	ContextDir string
	// Tag overrides the recipe's image tag.
	Tag string

	NoCache  bool // Force rebuild, ignore cache
	Compress bool // Gzip the build context

	// RunID identifies this build in logs and history.
	RunID string

	// OnStep is called as each step finishes.
	OnStep func(StepResult)

	// Logger for build operations (optional, defaults to discard)
	Logger *slog.Logger
}

// StepResult is the outcome of one build step as reported by the daemon.
type StepResult struct {
	Index       int
	Instruction string
	Role        plan.Role
	Cached      bool
}

// BuildResult contains the result of a build operation.
type BuildResult struct {
	ImageID  string
	ImageTag string

	Steps []StepResult

	DependencyKey digest.Digest
	SourceKey     digest.Digest
	// DependenciesCached reports whether the dependency installation layer
	// was reused rather than executed.
	DependenciesCached bool
	// NoCache records that the build ran with the daemon cache disabled.
	NoCache bool

	StartedAt time.Time
	Duration  time.Duration
}

// Step returns the result for the step with the given role.
func (r *BuildResult) Step(role plan.Role) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Role == role {
			return s, true
		}
	}
	return StepResult{}, false
}

// BuildError carries the failing step and the last lines of build output.
type BuildError struct {
	Step   int
	Role   plan.Role
	Output []string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("step %d (%s): %v", e.Step, e.Role, e.Err)
	}
	return e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
