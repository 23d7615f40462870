// Package builder builds an image from a recipe through the Docker daemon.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/layerctl/layerctl/pkg/buildctx"
	"github.com/layerctl/layerctl/pkg/cachekey"
	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/logging"
	"github.com/layerctl/layerctl/pkg/plan"
	"github.com/layerctl/layerctl/pkg/runtime"
	"github.com/layerctl/layerctl/pkg/telemetry"
)

// Builder handles building images from recipes.
type Builder struct {
	cli    dockerclient.DockerClient
	tracer trace.Tracer
}

// New creates a new Builder instance.
func New(cli dockerclient.DockerClient) *Builder {
	return &Builder{cli: cli, tracer: telemetry.Tracer("builder")}
}

// Prepared is a recipe resolved against its build context, ready to send.
type Prepared struct {
	ContextDir    string
	Plan          *plan.Plan
	Excludes      []string
	DependencyKey digest.Digest
	SourceKey     digest.Digest
}

// Prepare resolves the source, renders the plan and computes the cache keys
// without contacting the daemon.
func (b *Builder) Prepare(ctx context.Context, opts BuildOptions) (*Prepared, error) {
	r := opts.Recipe
	if r == nil {
		return nil, fmt.Errorf("recipe is required")
	}
	logger := logging.OrDiscard(opts.Logger)

	_, span := b.tracer.Start(ctx, "builder.prepare")
	defer span.End()

	contextDir, err := b.prepareSource(opts)
	if err != nil {
		return nil, fail(span, fmt.Errorf("preparing source: %w", err))
	}

	p, err := plan.New(r)
	if err != nil {
		return nil, fail(span, fmt.Errorf("planning build: %w", err))
	}

	excludes, err := buildctx.Excludes(contextDir)
	if err != nil {
		return nil, fail(span, err)
	}
	if err := buildctx.CheckManifest(contextDir, r.Manifest, excludes); err != nil {
		return nil, fail(span, err)
	}

	depsKey, err := cachekey.Dependencies(r, contextDir, excludes)
	if err != nil {
		return nil, fail(span, err)
	}
	srcKey, err := cachekey.Source(contextDir, excludes)
	if err != nil {
		return nil, fail(span, err)
	}
	logger.Debug("computed cache keys", "deps", depsKey, "source", srcKey)

	return &Prepared{
		ContextDir:    contextDir,
		Plan:          p,
		Excludes:      excludes,
		DependencyKey: depsKey,
		SourceKey:     srcKey,
	}, nil
}

// Build builds an image from the given options.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	r := opts.Recipe
	if r == nil {
		return nil, fmt.Errorf("recipe is required")
	}
	logger := logging.OrDiscard(opts.Logger)
	if opts.RunID != "" {
		logger = logging.WithTraceID(logger, opts.RunID)
	}

	tag := opts.Tag
	if tag == "" {
		tag = r.ImageTag()
	}

	ctx, span := b.tracer.Start(ctx, "builder.Build", trace.WithAttributes(
		attribute.String("layerctl.recipe", r.Name),
		attribute.String("layerctl.tag", tag),
		attribute.Bool("layerctl.no_cache", opts.NoCache),
	))
	defer span.End()

	prep, err := b.Prepare(ctx, opts)
	if err != nil {
		return nil, fail(span, err)
	}

	if err := runtime.EnsureImage(ctx, b.cli, r.Base, r.Platform, logger); err != nil {
		return nil, fail(span, fmt.Errorf("%w: %s: %w", ErrBaseImageUnavailable, r.Base, err))
	}

	buildContext, err := buildctx.Archive(prep.ContextDir, []byte(prep.Plan.Dockerfile()), buildctx.Options{
		Excludes: prep.Excludes,
		Compress: opts.Compress,
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("creating build context: %w", err))
	}
	defer buildContext.Close()

	labels := make(map[string]string, len(r.Labels)+5)
	for k, v := range r.Labels {
		labels[k] = v
	}
	labels[LabelRecipe] = r.Name
	labels[LabelDepsDigest] = prep.DependencyKey.String()
	labels[LabelSourceDigest] = prep.SourceKey.String()
	labels[LabelSchemaVersion] = SchemaVersion
	labels[LabelModule] = r.Module

	imageID, steps, err := BuildImage(ctx, b.cli, buildContext, ImageOptions{
		Plan:      prep.Plan,
		Tag:       tag,
		Platform:  r.Platform,
		BuildArgs: r.BuildArgs,
		Labels:    labels,
		NoCache:   opts.NoCache,
		OnStep:    opts.OnStep,
	}, logger)
	if err != nil {
		return nil, fail(span, err)
	}

	result := &BuildResult{
		ImageID:       imageID,
		ImageTag:      tag,
		Steps:         steps,
		DependencyKey: prep.DependencyKey,
		SourceKey:     prep.SourceKey,
		NoCache:       opts.NoCache,
		StartedAt:     start,
		Duration:      time.Since(start),
	}
	if s, ok := result.Step(plan.RoleDependencies); ok {
		result.DependenciesCached = s.Cached
	}

	span.SetAttributes(
		attribute.String("layerctl.image_id", imageID),
		attribute.Bool("layerctl.dependencies_cached", result.DependenciesCached),
	)
	logger.Info("built image",
		"tag", tag,
		"image", imageID,
		"dependencies_cached", result.DependenciesCached,
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func (b *Builder) prepareSource(opts BuildOptions) (string, error) {
	if opts.ContextDir != "" {
		return localDir(opts.ContextDir)
	}

	src := opts.Recipe.Source
	switch src.Type {
	case "git":
		if src.URL == "" {
			return "", fmt.Errorf("git URL is required")
		}
		ref := src.Ref
		if ref == "" {
			ref = "main"
		}
		dir, err := CloneOrUpdate(src.URL, ref, opts.Logger)
		if err != nil {
			return "", err
		}
		if src.Path != "" {
			return localDir(filepath.Join(dir, src.Path))
		}
		return dir, nil
	case "local", "":
		if src.Path == "" {
			return "", fmt.Errorf("local path is required")
		}
		return localDir(src.Path)
	default:
		return "", fmt.Errorf("unknown source type: %s", src.Type)
	}
}

func localDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("source path not found: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source path is not a directory: %s", path)
	}
	return path, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
