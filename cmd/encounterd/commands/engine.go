package commands

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/questforge/encounterd/internal/config"
	"github.com/questforge/encounterd/internal/event"
	"github.com/questforge/encounterd/internal/gatewayclient"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/internal/server"
	"github.com/questforge/encounterd/internal/session"
	"github.com/questforge/encounterd/internal/storage"
)

var (
	enginePort int
	gatewayURL string
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Start the session engine",
	Long: `Start the session engine. It serves the /session API, requesting
encounters from the gateway and persisting sessions under the data directory.`,
	RunE: runEngine,
}

func init() {
	engineCmd.Flags().IntVarP(&enginePort, "port", "p", 0, "Port to listen on, overrides config")
	engineCmd.Flags().StringVar(&gatewayURL, "gateway-url", "", "Gateway base URL, overrides config")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HMACSecret == "" {
		return errors.New("hmacSecret is required (set ENCOUNTERD_HMAC_SECRET)")
	}

	baseURL := cfg.Engine.GatewayURL
	if gatewayURL != "" {
		baseURL = gatewayURL
	}
	var opts []gatewayclient.Option
	if cfg.Engine.GatewayTimeoutMs > 0 {
		opts = append(opts, gatewayclient.WithTimeout(time.Duration(cfg.Engine.GatewayTimeoutMs)*time.Millisecond))
	}
	gw, err := gatewayclient.New(baseURL, cfg.HMACSecret, opts...)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()

	persist := config.PersistActive(cfg)
	svc, err := session.NewService(gw, storage.NewSessionStore(cfg.Session.DataDir), session.Options{
		CacheSize:     cfg.Session.CacheSize,
		PersistActive: persist,
		Bus:           bus,
	})
	if err != nil {
		return err
	}
	logging.Info().
		Str("gateway", baseURL).
		Str("dataDir", cfg.Session.DataDir).
		Bool("persistActive", persist).
		Msg("session engine ready")

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Engine.Port
	if enginePort != 0 {
		srvCfg.Port = enginePort
	}
	srvCfg.EnableCORS = cfg.Engine.EnableCORS

	return serve("engine", srvCfg.Port, server.NewEngine(srvCfg, svc, bus))
}
