package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newResearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "research <objective>",
		Short: "Search, scrape, and extract pages for an objective",
		Long: `Asks the language model for search queries that serve the objective, runs
the top queries, scrapes the links they return, and converts the stored pages
to text. The run result is printed as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, appInstance App, args []string) error {
			result, err := appInstance.RunResearch(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("research: %w", err)
			}
			appInstance.Logger().Info("research finished",
				zap.String("run_id", result.RunID),
				zap.Int("queries", len(result.Queries)),
				zap.Int("urls", len(result.URLs)),
			)
			return writeJSON(cmd.OutOrStdout(), result)
		}),
	}
}
