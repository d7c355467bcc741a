package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's MCP servers",
		Long: `List the MCP server configurations owned by a Slack user.

Auth tokens are never printed; the TOKEN column only shows whether one is stored.

	Examples:
	  gengarctl list --user U012ABCDEF
	  gengarctl list --user U012ABCDEF --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			configs, err := s.store.ListConfigurations(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if asJSON {
				out := models.MCPServerListResponse{Servers: make([]models.MCPServerResponse, 0, len(configs))}
				for _, cfg := range configs {
					out.Servers = append(out.Servers, cfg.ToResponse())
				}
				out.Total = len(out.Servers)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tURL\tENABLED\tSTATUS\tTOKEN\tREVISION")
			for _, cfg := range configs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%t\t%d\n",
					cfg.ServerName, cfg.TransportType, cfg.Url, cfg.Enabled,
					cfg.VerificationStatus, cfg.HasAuthToken(), cfg.Revision)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Slack user ID (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
