package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tradexec/internal/logging"
)

// cli carries the state shared by every subcommand once the persistent
// pre-run has resolved configuration.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     appConfig
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	state := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "tradexec",
		Short: "Sandboxed execution engine for trade analysis scripts",
		Long: `tradexec validates untrusted Python analysis code, stages the trade
datasets it is allowed to read and runs it under resource limits on the best
available backend.

Configuration is read from an optional YAML file and TRADEXEC_* environment
variables, e.g. TRADEXEC_KAFKA_BROKERS or TRADEXEC_LIMITS_TIMEOUT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&state.cfgFile, "config", "", "path to a YAML config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	_ = state.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = state.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(state),
		newRunCmd(state),
		newValidateCmd(state),
		newBackendsCmd(state),
		newVersionCmd(),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := loadAppConfig(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}
