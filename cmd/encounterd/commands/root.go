// Package commands provides the CLI commands for encounterd.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/questforge/encounterd/internal/config"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs  bool
	logLevel   string
	configFile string
	workDir    string
)

var rootCmd = &cobra.Command{
	Use:   "encounterd",
	Short: "encounterd - encounter generation gateway and session engine",
	Long: `encounterd generates game encounters through upstream language model
providers and tracks the sessions players run through them.

Run 'encounterd gateway' to serve generation behind HMAC authentication,
and 'encounterd engine' to serve the session API in front of it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside development.
		_ = godotenv.Load(filepath.Join(workDirOrDot(), ".env"))
		if configFile != "" {
			return os.Setenv(config.EnvPrefix+"CONFIG", configFile)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Also write JSON logs to the state directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR), overrides config")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Explicit config file, loaded after the project config")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Project directory to load config from")

	rootCmd.SetVersionTemplate(fmt.Sprintf("encounterd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(keygenCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func workDirOrDot() string {
	if workDir != "" {
		return workDir
	}
	return "."
}

// loadConfig resolves the working directory, loads configuration and
// initializes logging from it.
func loadConfig() (*types.Config, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(level)
	logCfg.Pretty = isTerminal(os.Stderr)
	logCfg.LogToFile = printLogs
	logCfg.LogDir = config.GetPaths().LogPath()
	logging.Init(logCfg)
	if path := logging.GetLogFilePath(); path != "" {
		logging.Info().Str("path", path).Msg("writing logs to file")
	}

	logging.Info().Str("version", Version).Str("directory", dir).Msg("configuration loaded")
	return cfg, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
