package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/blockhost/internal/plugin"
	"github.com/dshills/blockhost/internal/uievent"
)

const shutdownTimeout = 30 * time.Second

func newRunCommand() *cobra.Command {
	runCommand := &cobra.Command{
		Use:   "run",
		Short: "Start the host and keep the enabled plugins running",
		Long: `Start the host and keep the enabled plugins running until interrupted.

Send SIGHUP to rescan the plugins directory. Running plugins are stopped and
the persisted enabled set is started again.`,
		Args: cobra.NoArgs,
		RunE: runAction,
	}
	runCommand.Flags().Bool("watch", false, "Report changes in the plugins directory (overrides watch.enabled)")
	runCommand.Flags().Bool("events", false, "Print live UI events to stdout as JSON lines")
	return runCommand
}

func runAction(cmd *cobra.Command, _ []string) error {
	sys, cfg, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := sys.Registry().Subscribe(func(ev plugin.Event) {
		logEvent(log, ev)
	})
	defer unsubscribe()

	if printEvents, _ := cmd.Flags().GetBool("events"); printEvents {
		var mu sync.Mutex
		enc := json.NewEncoder(cmd.OutOrStdout())
		sys.SetLiveHandler(func(ev uievent.Event) {
			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(ev); err != nil {
				log.WithError(err).Debug("Dropping UI event")
			}
		})
	}

	enabled, err := sys.Start(ctx)
	if err != nil {
		log.WithError(err).Warn("Persisted plugins could not be restored")
	}
	log.Infof("Host started with %d plugin(s) enabled from %s", len(enabled), cfg.Paths.Plugins)

	watch := cfg.Watch.Enabled
	if cmd.Flags().Changed("watch") {
		watch, _ = cmd.Flags().GetBool("watch")
	}
	if watch {
		go func() {
			if err := sys.Registry().Watch(ctx, cfg.Watch.Debounce); err != nil {
				log.WithError(err).Error("Plugin directory watch stopped")
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return nil
		case <-hup:
			log.Info("Rescanning plugins")
			if _, err := sys.Start(ctx); err != nil {
				log.WithError(err).Warn("Persisted plugins could not be restored")
			}
		}
	}
}

func logEvent(log logrus.FieldLogger, ev plugin.Event) {
	entry := log.WithField("event", ev.Type.String())
	if ev.PluginID != "" {
		entry = entry.WithField("plugin", ev.PluginID)
	}
	switch ev.Type {
	case plugin.EventError:
		entry.WithError(ev.Err).Error("Plugin failed to start")
	case plugin.EventDisabled:
		if len(ev.Cascade) > 0 {
			entry = entry.WithField("cascade", strings.Join(ev.Cascade, ","))
		}
		entry.Info("Plugin disabled")
	case plugin.EventDirectoryChanged:
		entry.Info("Plugins directory changed; send SIGHUP to rescan")
	default:
		entry.Debug("Registry event")
	}
}
