package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/questforge/encounterd/internal/config"
	"github.com/questforge/encounterd/internal/hmacauth"
)

var signSecret string

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Print the X-HMAC-Signature for a request body",
	Long: `Print the hex HMAC-SHA256 signature of a request body read from a file
or stdin, for calling the gateway by hand:

  encounterd sign body.json | xargs -I{} curl -H "X-HMAC-Signature: {}" -d @body.json ...`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := signSecret
		if secret == "" {
			secret = os.Getenv(config.EnvPrefix + "HMAC_SECRET")
		}
		if secret == "" {
			return errors.New("no secret: pass --secret or set ENCOUNTERD_HMAC_SECRET")
		}

		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hmacauth.Sign(body, secret))
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", "", "Shared secret (defaults to ENCOUNTERD_HMAC_SECRET)")
}
