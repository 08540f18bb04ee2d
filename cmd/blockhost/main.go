// Package main is the entry point for the blockhost plugin host.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/blockhost/internal/config"
	"github.com/dshills/blockhost/internal/plugin"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "blockhost",
		Short:   "Host sandboxed Lua plugins for game server panels",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Example: `  Run the host with the default configuration:
  $ blockhost run

  Install and enable a plugin:
  $ blockhost install ./motd.zip
  $ blockhost enable motd`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().String("log-level", "", "Override the logging level [trace, debug, info, warn, error]")
	rootCmd.PersistentFlags().String("log-format", "", "Override the logging format [text, json]")

	rootCmd.AddCommand(
		newRunCommand(),
		newListCommand(),
		newValidateCommand(),
		newEnableCommand(),
		newDisableCommand(),
		newInstallCommand(),
		newDeleteCommand(),
		newSnapshotCommand(),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		if _, err := logrus.ParseLevel(l); err != nil {
			return nil, nil, err
		}
		cfg.Log.Level = l
	}
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		if f != config.FormatText && f != config.FormatJSON {
			return nil, nil, fmt.Errorf("unsupported log-format: %q", f)
		}
		cfg.Log.Format = f
	}

	log := cfg.Logger()
	log.SetOutput(os.Stderr)
	if cfg.Source != "" {
		log.Debugf("Loaded configuration from %s", cfg.Source)
	}
	for _, key := range cfg.Unknown {
		log.Warnf("Ignoring unknown setting %q", key)
	}
	return cfg, log, nil
}

// openSystem builds the plugin system without starting it.
func openSystem(cmd *cobra.Command) (*plugin.System, *config.Config, *logrus.Logger, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	sc, err := cfg.SystemConfig(log)
	if err != nil {
		return nil, nil, nil, err
	}
	sc.Servers = dirServers{root: cfg.Paths.Servers}
	sc.Version = version
	return plugin.NewSystem(sc), cfg, log, nil
}

// shutdown stops the system and logs any error.
func shutdown(sys *plugin.System, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sys.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Plugin shutdown did not complete cleanly")
	}
}
