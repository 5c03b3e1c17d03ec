package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/chaincraft/internal/config"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/version"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chaincraft",
		Short: "chaincraft: collaborative game design with a remote design agent",
		Long: "chaincraft relays game design conversations between chat users and a " +
			"design agent hosted as a Gradio Space, keeping per-conversation state.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := config.LoadDotEnv(".env", paths.DotEnv); err != nil {
				return err
			}
			log = logging.New(nil, levelOr(os.Getenv("CHAINCRAFT_LOG_LEVEL"), "info"))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chaincraft/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(
		newServeCmd(),
		newDesignCmd(),
		newStateCmd(),
		newConfigCmd(),
		newStatusCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.Info())
			},
		},
	)

	return cmd
}

func levelOr(level, fallback string) string {
	if logLevel != "" {
		return logLevel
	}
	if level != "" {
		return level
	}
	return fallback
}

// loadConfig reads and validates the config file and rebuilds the logger
// from its logging section.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	log = logging.NewWithFormat(levelOr(cfg.Logging.Level, "info"), cfg.Logging.Format)

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// AutoRestartEnabled reports whether dev.autoRestart is set in the config
// file. Errors count as disabled.
func AutoRestartEnabled() bool {
	p, err := config.ResolvePaths()
	if err != nil {
		return false
	}
	for i, arg := range os.Args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			p.Config = v
		} else if arg == "--config" && i+1 < len(os.Args) {
			p.Config = os.Args[i+1]
		}
	}
	cfg, err := config.Load(p.Config)
	return err == nil && cfg.Dev.AutoRestart
}
