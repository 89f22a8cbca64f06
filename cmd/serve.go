package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scrape API",
		Long: `Starts the HTTP API on server.port. POST /v1/runs queues a batch of URLs,
GET /v1/runs/{run_id} reports its progress, and /healthz, /readyz, and
/metrics serve probes and Prometheus metrics. SIGINT or SIGTERM drains the
server and stops the workers.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, appInstance App, _ []string) error {
			return appInstance.Serve(cmd.Context())
		}),
	}
}
