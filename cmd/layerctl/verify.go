package main

import (
	"fmt"

	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/output"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/layerctl/layerctl/pkg/verify"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
)

var verifyImage string

var verifyCmd = &cobra.Command{
	Use:   "verify [recipe]",
	Short: "Check a built image",
	Long: `Inspects the recipe's image and checks that:

  - the default command runs exactly one module with no extra arguments
  - the dependency manager resolves from PATH without an absolute path
  - the manager home and working directory are set
  - the dependency layer was built from the current manifest and lockfile

When at least two builds are recorded, it also checks that the dependency
layer was reused or invalidated as the inputs dictate.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args)
		if err != nil {
			return err
		}
		logger := newLogger("verify")

		image := verifyImage
		if image == "" {
			image = r.ImageTag()
		}

		ctx := cmd.Context()
		var depsKey digest.Digest
		if prep, err := builder.New(nil).Prepare(ctx, builder.BuildOptions{Recipe: r, Logger: logger}); err != nil {
			logger.Warn("skipping dependency layer check", "error", err)
		} else {
			depsKey = prep.DependencyKey
		}

		cli, err := connectDocker(ctx)
		if err != nil {
			return err
		}
		defer cli.Close()

		rep, err := verify.Image(ctx, cli, image, r, depsKey)
		if err != nil {
			return err
		}

		h, err := state.Load(r.Name)
		if err != nil {
			logger.Warn("reading build history", "error", err)
		} else if f, ok := historyFinding(h); ok {
			rep.Findings = append(rep.Findings, f)
		}

		printer := output.NewWithWriter(cmd.OutOrStdout())
		printer.Findings(findingSummaries(rep.Findings))
		if failed := rep.Failed(); len(failed) > 0 {
			return fmt.Errorf("image %s failed %d check(s)", image, len(failed))
		}
		printer.Info("All checks passed", "image", image)
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyImage, "image", "", "Image to check (default: the recipe's tag)")
}

// historyFinding checks cache behaviour across the last two recorded builds.
func historyFinding(h *state.History) (verify.Finding, bool) {
	n := len(h.Builds)
	if n < 2 {
		return verify.Finding{}, false
	}
	result := func(b state.Build) *builder.BuildResult {
		return &builder.BuildResult{
			DependencyKey:      b.DepsDigest,
			DependenciesCached: b.DependenciesCached,
			NoCache:            b.NoCache,
		}
	}
	prev, last := h.Builds[n-2], h.Builds[n-1]
	return verify.CacheReuse(result(prev), result(last), prev.DepsDigest != last.DepsDigest), true
}
