package main

import (
	"fmt"

	"github.com/layerctl/layerctl/pkg/plan"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render [recipe]",
	Short: "Print the generated Dockerfile",
	Long:  "Loads a recipe and prints the Dockerfile layerctl would build, without contacting Docker.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRecipe(args)
		if err != nil {
			return err
		}
		p, err := plan.New(r)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), p.Dockerfile())
		return nil
	},
}
