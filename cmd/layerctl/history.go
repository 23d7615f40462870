package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/layerctl/layerctl/pkg/output"
	"github.com/layerctl/layerctl/pkg/state"
	"github.com/spf13/cobra"
)

var (
	historyJSON  bool
	historyAll   bool
	historyClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history [recipe]",
	Short: "Show recorded builds of a recipe",
	Long: `Shows the builds recorded for a recipe, newest first.

With --all, lists every recipe that has recorded builds instead. With
--clear, forgets the recipe's history so the next plan has nothing to
compare against.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyAll && historyClear {
			return fmt.Errorf("--all and --clear cannot be combined")
		}
		printer := output.NewWithWriter(cmd.OutOrStdout())
		if historyAll {
			return printAllHistory(printer)
		}

		r, err := loadRecipe(args)
		if err != nil {
			return err
		}

		if historyClear {
			err := state.WithLock(r.Name, lockTimeout, func() error {
				return state.Delete(r.Name)
			})
			if err != nil {
				return fmt.Errorf("clearing history: %w", err)
			}
			printer.Info("History cleared", "recipe", r.Name)
			return nil
		}

		h, err := state.Load(r.Name)
		if err != nil {
			return err
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		}

		if len(h.Builds) == 0 {
			printer.Info("No builds recorded", "recipe", r.Name)
			return nil
		}
		printer.History(buildSummaries(h.Builds, time.Now()))
		return nil
	},
}

func printAllHistory(printer *output.Printer) error {
	names, err := state.List()
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}

	var histories []*state.History
	for _, name := range names {
		h, err := state.Load(name)
		if err != nil {
			return err
		}
		histories = append(histories, h)
	}
	if len(histories) == 0 {
		printer.Info("No builds recorded")
		return nil
	}
	printer.Recipes(recipeSummaries(histories, time.Now()))
	return nil
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the raw history as JSON")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "List every recipe with recorded builds")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Delete the recipe's recorded builds")
}
