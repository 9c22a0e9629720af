// Package cli implements the linksync command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/linksync/internal/config"
	"github.com/tOgg1/linksync/internal/logging"
)

// Execute runs the linksync root command.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

// app carries the global flags and the loaded config for one invocation.
type app struct {
	configFile string
	logLevel   string
	jsonOutput bool
	offline    bool
	serverURL  string

	cfg     *config.Config
	logFile io.Closer
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "linksync",
		Short:         "Relay links and snippets between your devices",
		Long:          "linksync sends text and links to every device signed in to the same account.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				_ = a.logFile.Close()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: ~/.config/linksync/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.BoolVar(&a.jsonOutput, "json", false, "output as JSON")
	flags.BoolVar(&a.offline, "offline", false, "use a relay database on this machine instead of the server")
	flags.StringVar(&a.serverURL, "server", "", "relay URL (overrides client.server_url)")

	cmd.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newSendCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
		newAccountsCmd(a),
		newCopyCmd(a),
		newUICmd(a),
		newConfigCmd(a),
	)

	return cmd
}

// setup loads config and initializes logging. Flags beat env and file.
func (a *app) setup(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if a.configFile != "" {
		loader.SetConfigFile(a.configFile)
	}
	if a.logLevel != "" {
		loader.Set("logging.level", strings.ToLower(a.logLevel))
	}
	if a.serverURL != "" {
		loader.Set("client.server_url", a.serverURL)
	}

	cfg, err := loader.Load()
	if err != nil {
		return &PreflightError{
			Message:  err.Error(),
			Hint:     "Fix the config file or the LINKSYNC_* environment",
			NextStep: "linksync config show",
		}
	}
	a.cfg = cfg

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logCfg.Output = f
	}
	logging.Init(logCfg)
	return nil
}
