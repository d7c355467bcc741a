package main

import (
	"fmt"
	"os"

	"github.com/imyashkale/gengar-bark/internal/services"
	"github.com/spf13/cobra"
)

const rotateOperator = "gengarctl"

func newRotateKeyCmd(opts *rootOptions) *cobra.Command {
	var newKey string

	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt every stored auth token under a new key",
		Long: `Decrypt every stored auth token with MCP_ENCRYPTION_KEY and encrypt it again
with the new key, in a single transaction. Tokens that cannot be decrypted are
reported and left untouched.

Stop the bot first and set MCP_ENCRYPTION_KEY to the new key before restarting it.

	Examples:
	  gengarctl rotate-key --new-key "$NEW_KEY"
	  MCP_NEW_ENCRYPTION_KEY="$NEW_KEY" gengarctl rotate-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if newKey == "" {
				newKey = os.Getenv("MCP_NEW_ENCRYPTION_KEY")
			}
			if newKey == "" {
				return fmt.Errorf("--new-key or MCP_NEW_ENCRYPTION_KEY is required")
			}

			next, err := services.NewSecretCodec(newKey)
			if err != nil {
				return err
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if newKey == s.cfg.EncryptionKey {
				return fmt.Errorf("the new key matches the current key")
			}

			result, err := s.store.RotateEncryptionKey(cmd.Context(), rotateOperator, next)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Re-encrypted %d tokens\n", result.Rotated)
			for _, id := range result.Failed {
				fmt.Fprintf(out, "  could not decrypt token for configuration %s\n", id)
			}
			fmt.Fprintln(out, "Update MCP_ENCRYPTION_KEY to the new key before restarting the bot.")
			return nil
		},
	}

	cmd.Flags().StringVar(&newKey, "new-key", "", "new encryption key, at least 32 characters")
	return cmd
}
