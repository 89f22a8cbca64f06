package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Convert stored pages to text",
		Long: `Loads every page under store.html_dir, converts it with the configured
transform.mode, and writes <hash>.md files under store.markdown_dir. A page
whose metadata file is missing or unreadable aborts the run.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, appInstance App, _ []string) error {
			summary, err := appInstance.Extract(cmd.Context())
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		}),
	}
}
