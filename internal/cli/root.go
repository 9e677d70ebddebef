package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vesperbase/vesper/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vesper",
	Short: "Scheduler and permission broker for AI chat backends",
	Long: `Vesper is the background core of an AI chat backend:

  - Recurring task scheduler (once/daily/weekly/monthly) backed by SQLite
  - Task runner with a cron beat and duplicate-fire suppression
  - Permission request/response broker over keyed TTL storage and pub/sub
  - Chat-scoped tokens gating permission traffic
  - Optional YAML policy to auto-approve known-safe tool calls

Start the server:
  vesper serve`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./vesper.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadConfig reads the configuration, falling back to defaults when no
// config file exists.
func loadConfig() *config.Config {
	var (
		cfg *config.Config
		err error
	)

	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfgFile).Msg("Failed to load config")
		}
	} else {
		cfg, err = config.LoadWithDefaults()
		if err != nil {
			log.Warn().Err(err).Msg("No usable config file found, using defaults")
			cfg = config.Default()
		}
	}

	return cfg
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logCtx := logger.With()
	if cfg.Timestamp {
		logCtx = logCtx.Timestamp()
	}
	if cfg.Caller {
		logCtx = logCtx.Caller()
	}
	log.Logger = logCtx.Logger()
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("vesper version %s", "0.1.0-dev")
}
