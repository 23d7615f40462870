package main

import (
	"fmt"

	"github.com/layerctl/layerctl/pkg/builder"
	"github.com/layerctl/layerctl/pkg/cachekey"
	"github.com/layerctl/layerctl/pkg/output"
	"github.com/layerctl/layerctl/pkg/plan"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/spf13/cobra"
)

var planContext string

var planCmd = &cobra.Command{
	Use:   "plan [recipe]",
	Short: "Show build steps and predicted cache reuse",
	Long: `Prints the build steps for a recipe and predicts, from the last recorded
build, whether the dependency layer and source layer will be reused.

Does not contact Docker.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args)
		if err != nil {
			return err
		}

		prep, err := builder.New(nil).Prepare(cmd.Context(), builder.BuildOptions{
			Recipe:     r,
			ContextDir: planContext,
			Logger:     newLogger("builder"),
		})
		if err != nil {
			return err
		}

		last, err := state.Last(r.Name)
		if err != nil {
			return fmt.Errorf("reading build history: %w", err)
		}

		deps, source := cachekey.Unknown, cachekey.Unknown
		if last != nil {
			deps = cachekey.Compare(last.DepsDigest, prep.DependencyKey)
			source = cachekey.Compare(last.SourceDigest, prep.SourceKey)
		}

		steps := make([]output.StepSummary, 0, len(prep.Plan.Steps))
		for i, s := range prep.Plan.Steps {
			status := "pending"
			switch s.Role {
			case plan.RoleDependencies:
				status = string(deps)
			case plan.RoleSource:
				status = string(source)
			}
			steps = append(steps, output.StepSummary{
				Index:       i + 1,
				Instruction: s.String(),
				Role:        string(s.Role),
				Status:      status,
			})
		}

		printer := output.NewWithWriter(cmd.OutOrStdout())
		printer.Steps(steps)
		printer.Info("Cache keys",
			"dependencies", shortDigest(prep.DependencyKey.String()),
			"source", shortDigest(prep.SourceKey.String()))
		if last == nil {
			printer.Info("No previous build recorded", "recipe", r.Name)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planContext, "context", "", "Build context directory (overrides the recipe source)")
}
