package cli

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// Execute runs the kpi-dashboard command line.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kpi-dashboard",
		Short:         "Customer and order KPIs for the BI dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("KPI_DASHBOARD_CONFIG"),
		"YAML config file (environment variables override it)")

	root.AddCommand(
		newMigrateCmd(opts),
		newLoadCmd(opts),
		newKPICmd(opts),
		newVerifyCmd(opts),
		newServeCmd(opts),
	)
	return root
}
