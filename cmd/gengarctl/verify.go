package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var userID, name string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a connectivity check for a stored MCP server",
		Long: `Connect to a stored MCP server, perform the initialize handshake and record
the outcome, exactly as the Slack "Test connection" button does.

	Examples:
	  gengarctl verify --user U012ABCDEF --name github`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			cfg, err := s.store.GetConfigurationByName(ctx, userID, name)
			if err != nil {
				return err
			}

			cfg, result, err := s.store.VerifyStoredConfiguration(ctx, userID, cfg.Id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Success {
				fmt.Fprintf(out, "%s: connection failed: %s\n", cfg.ServerName, result.Error)
				return fmt.Errorf("verification failed")
			}
			fmt.Fprintf(out, "%s: connected", cfg.ServerName)
			if n := cfg.ToolCount(); n >= 0 {
				fmt.Fprintf(out, ", %d tools", n)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Slack user ID (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "server name (required)")
	return cmd
}
