package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/layerctl/layerctl/pkg/buildctx"
	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/cachekey"
	"github.com/layerctl/layerctl/pkg/dockerclient"
	"github.com/layerctl/layerctl/pkg/logging"
	"github.com/layerctl/layerctl/pkg/output"
	"github.com/layerctl/layerctl/pkg/recipe"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/layerctl/layerctl/pkg/watch"

	"github.com/spf13/cobra"
)

var (
	buildNoCache  bool
	buildTag      string
	buildContext  string
	buildCompress bool
	buildWatch    bool
	buildQuiet    bool
)

// lockTimeout bounds how long a command waits for another holder of the recipe's state lock.
const lockTimeout = 10 * time.Minute

var buildCmd = &cobra.Command{
	Use:   "build [recipe]",
	Short: "Build an image from a recipe",
	Long: `Reads a recipe (default ./layerctl.yaml), generates the Dockerfile and builds
the image through the Docker daemon.

Each build is recorded in ~/.layerctl/state so the next build can report
whether the dependency layer was reused.

Use --watch to rebuild whenever the application tree or recipe changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), recipePath(args))
	},
}

func init() {
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Do not use cached layers")
	buildCmd.Flags().StringVarP(&buildTag, "tag", "t", "", "Image tag (default: recipe tag or layerctl-<name>:latest)")
	buildCmd.Flags().StringVar(&buildContext, "context", "", "Build context directory (overrides the recipe source)")
	buildCmd.Flags().BoolVar(&buildCompress, "compress", false, "Gzip the build context before sending it")
	buildCmd.Flags().BoolVarP(&buildWatch, "watch", "w", false, "Rebuild when the context or recipe changes")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "Suppress progress output (show only final result)")
}

func runBuild(ctx context.Context, path string) error {
	r, err := recipe.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load recipe: %w", err)
	}

	printer := output.New()
	if !buildQuiet {
		printer.Banner(version)
		printer.Info("Loaded recipe", "file", path, "name", r.Name)
	}

	cli, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	if err := buildOnce(ctx, cli, r, printer); err != nil {
		return err
	}
	if !buildWatch {
		return nil
	}

	if r.Source.Type != "local" && buildContext == "" {
		return fmt.Errorf("--watch requires a local source")
	}
	dir := buildContext
	if dir == "" {
		dir = r.Source.Path
	}
	excludes, err := buildctx.Excludes(dir)
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher(dir, excludes, func() error {
		next, err := recipe.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load recipe: %w", err)
		}
		r = next
		return buildOnce(ctx, cli, r, printer)
	})
	if err != nil {
		return err
	}
	if err := w.AddFile(path); err != nil {
		return err
	}
	w.SetLogger(newLogger("watch"))

	printer.Info("Watching for changes", "context", dir)
	if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildOnce builds the recipe under its state lock and records the result.
func buildOnce(ctx context.Context, cli dockerclient.DockerClient, r *recipe.Recipe, printer *output.Printer) error {
	runID := uuid.NewString()
	baseLogger, logPath := recipeLogger("builder", r.Name)
	logger := logging.WithTraceID(baseLogger, runID)

	return state.WithLock(r.Name, lockTimeout, func() error {
		prev, err := state.Last(r.Name)
		if err != nil {
			logger.Warn("reading build history", "error", err)
		}

		var onStep func(builder.StepResult)
		if !buildQuiet {
			onStep = func(s builder.StepResult) {
				printer.Debug("step", "n", s.Index, "cached", s.Cached, "instruction", s.Instruction)
			}
			printer.SetDebug(logging.ParseLevel(logLevel) <= slog.LevelDebug)
		}

		res, err := builder.New(cli).Build(ctx, builder.BuildOptions{
			Recipe:     r,
			ContextDir: buildContext,
			Tag:        buildTag,
			NoCache:    buildNoCache,
			Compress:   buildCompress,
			RunID:      runID,
			OnStep:     onStep,
			Logger:     logger,
		})
		if err != nil {
			var be *builder.BuildError
			if errors.As(err, &be) {
				for _, line := range be.Output {
					printer.Println("  " + line)
				}
			}
			if logPath != "" {
				printer.Info("Build log", "path", logPath)
			}
			return fmt.Errorf("build failed: %w", err)
		}

		if err := state.Append(r.Name, state.Build{
			ID:                 runID,
			ImageID:            res.ImageID,
			ImageTag:           res.ImageTag,
			RecipeDigest:       r.Digest(),
			DepsDigest:         res.DependencyKey,
			SourceDigest:       res.SourceKey,
			DependenciesCached: res.DependenciesCached,
			NoCache:            res.NoCache,
			StartedAt:          res.StartedAt,
			Duration:           res.Duration,
		}, state.DefaultKeep); err != nil {
			logger.Warn("recording build", "error", err)
		}

		if buildQuiet {
			printer.Println(res.ImageID)
			return nil
		}

		printer.Steps(stepSummaries(res))
		if prev != nil {
			if cachekey.Compare(prev.DepsDigest, res.DependencyKey) == cachekey.Reused && !res.DependenciesCached && !buildNoCache {
				printer.Warn("Dependency inputs unchanged but the layer was rebuilt (daemon cache pruned?)")
			}
		}
		printer.Info("Image built",
			"tag", res.ImageTag,
			"id", shortDigest(res.ImageID),
			"dependencies", depsStatus(res.DependenciesCached, res.NoCache),
			"duration", res.Duration.Round(time.Millisecond))
		return nil
	})
}
