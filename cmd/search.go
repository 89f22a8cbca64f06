package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var lastNDays int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one web search",
		Long: `Queries the Custom Search API and prints ranked results as JSON. Requires
search.api_key and search.engine_id (or GOOGLE_API_KEY and GOOGLE_CX).`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, appInstance App, args []string) error {
			results, err := appInstance.Search(cmd.Context(), strings.Join(args, " "), lastNDays)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), results)
		}),
	}
	cmd.Flags().IntVar(&lastNDays, "days", 0, "only return results from the last N days (0 uses search.last_n_days)")
	return cmd
}
