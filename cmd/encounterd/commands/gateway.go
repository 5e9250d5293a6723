package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/internal/provider"
	"github.com/questforge/encounterd/internal/server"
)

var gatewayPort int

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the encounter generation gateway",
	Long: `Start the generation gateway. It serves /gen/encounter, /gen/reward and
/gen/estimate behind HMAC request signing, fronting the configured providers
with per-provider circuit breakers and retries.`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", 0, "Port to listen on, overrides config")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HMACSecret == "" {
		return errors.New("hmacSecret is required (set ENCOUNTERD_HMAC_SECRET)")
	}

	reg, err := provider.InitializeProviders(context.Background(), cfg)
	if err != nil {
		logging.Warn().Err(err).Msg("some providers failed to initialize")
	}
	if reg.Len() == 0 {
		logging.Warn().Msg("no providers configured; generation requests will fail with 503")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Gateway.Port
	if gatewayPort != 0 {
		srvCfg.Port = gatewayPort
	}

	gw, err := server.NewGateway(srvCfg, reg, server.GatewayOptions{
		Secret:    cfg.HMACSecret,
		RateLimit: cfg.Gateway.RateLimit,
		RateBurst: cfg.Gateway.RateBurst,
	})
	if err != nil {
		return err
	}
	return serve("gateway", srvCfg.Port, gw)
}
