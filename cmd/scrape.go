package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type scrapeOptions struct {
	urlFile     string
	failOnError bool
}

func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape [url...]",
		Short: "Fetch and store pages",
		Long: `Fetches each URL with retries, falling back to a headless browser when the
HTTP response looks incomplete, and stores the HTML under store.html_dir. The
run report is printed as JSON.`,
		RunE: withApp(func(cmd *cobra.Command, app App, args []string) error {
			return runScrape(cmd, app, args, opts)
		}),
	}
	cmd.Flags().StringVarP(&opts.urlFile, "file", "f", "", "read URLs from a file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "exit non-zero when any URL could not be fetched")
	return cmd
}

func runScrape(cmd *cobra.Command, appInstance App, args []string, opts *scrapeOptions) error {
	urls := append([]string(nil), args...)
	if opts.urlFile != "" {
		fromFile, err := readURLFile(opts.urlFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("no URLs given: pass them as arguments or with --file")
	}

	report, err := appInstance.Scrape(cmd.Context(), urls)
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	appInstance.Logger().Info("scrape finished",
		zap.String("run_id", report.RunID),
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
	)
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if opts.failOnError && len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d URLs failed", len(report.Failed), len(urls))
	}
	return nil
}
