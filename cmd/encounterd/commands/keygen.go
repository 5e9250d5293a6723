package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/questforge/encounterd/internal/hmacauth"
)

var keygenBytes int

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random shared secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := hmacauth.GenerateSecret(keygenBytes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	keygenCmd.Flags().IntVarP(&keygenBytes, "bytes", "n", 32, "Random bytes in the secret")
}
