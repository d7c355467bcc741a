// Command gengarctl is the operator tool for the MCP configuration store.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gengarctl",
		Short: "Administer Gengar Bark MCP server configurations",
		Long: `Operator commands for the MCP server configuration store.

Configuration is read from the environment and an optional .env file, the
same way the bot reads it. Slack credentials are not required.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides DATABASE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newListCmd(opts),
		newVerifyCmd(opts),
		newRotateKeyCmd(opts),
	)
	return cmd
}
