package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/blockhost/internal/plugin"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed plugins",
		Args:    cobra.NoArgs,
		RunE:    listAction,
	}
}

func listAction(cmd *cobra.Command, _ []string) error {
	sys, cfg, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx := cmd.Context()
	infos := sys.Registry().Scan(ctx)
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	persisted, err := store.Load(ctx)
	store.Close()
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		log.Warnf("No plugins found in %s", cfg.Paths.Plugins)
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 4, 8, 4, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATE\tENABLED\tSIZE\tNOTES")
	for _, info := range infos {
		version, notes := "-", info.Reason
		if info.Valid() {
			version = info.Manifest.Version
		}
		if len(info.MissingRequired) > 0 {
			notes = "missing " + strings.Join(info.MissingRequired, ", ")
		}
		enabled := "no"
		if slices.Contains(persisted, info.ID) {
			enabled = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			info.ID, version, info.State, enabled, units.BytesSize(float64(dirSize(info.Path))), notes)
	}
	return w.Flush()
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if fi, err := d.Info(); err == nil && fi.Mode().IsRegular() {
			size += fi.Size()
		}
		return nil
	})
	return size
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH [PATH, ...]",
		Short: "Check plugin manifests",
		Long:  "Check plugin manifests. PATH is a plugin directory or a plugin.json file.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  validateAction,
	}
}

func validateAction(cmd *cobra.Command, args []string) error {
	var failed int
	for _, p := range args {
		dir := p
		if filepath.Base(p) == plugin.ManifestFile {
			dir = filepath.Dir(p)
		}
		m, err := plugin.LoadManifest(dir)
		if err != nil {
			logrus.WithError(err).Errorf("%s is invalid", p)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s is valid\n", p, m.ID, m.Version)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d manifest(s) are invalid", failed, len(args))
	}
	return nil
}

func newEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable PLUGIN [PLUGIN, ...]",
		Short: "Enable plugins and remember them for the next start",
		Args:  cobra.MinimumNArgs(1),
		RunE:  enableAction,
	}
}

func enableAction(cmd *cobra.Command, args []string) error {
	sys, _, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx := cmd.Context()
	if _, err := sys.Start(ctx); err != nil {
		log.WithError(err).Warn("Persisted plugins could not be restored")
	}
	var errs []error
	for _, id := range args {
		if sys.Registry().IsEnabled(id) {
			log.Infof("Plugin %q is already enabled", id)
			continue
		}
		if err := sys.Registry().Enable(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("enable %q: %w", id, err))
			continue
		}
		log.Infof("Enabled %q", id)
	}
	return errors.Join(errs...)
}

func newDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable PLUGIN [PLUGIN, ...]",
		Short: "Disable plugins along with the plugins that depend on them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  disableAction,
	}
}

func disableAction(cmd *cobra.Command, args []string) error {
	sys, _, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx := cmd.Context()
	if _, err := sys.Start(ctx); err != nil {
		log.WithError(err).Warn("Persisted plugins could not be restored")
	}
	var errs []error
	for _, id := range args {
		if !sys.Registry().IsEnabled(id) {
			removed, err := sys.Registry().Forget(ctx, id)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("disable %q: %w", id, err))
			case removed:
				log.Infof("Plugin %q was not running; removed it from the enabled list", id)
			default:
				log.Infof("Plugin %q is not enabled", id)
			}
			continue
		}
		cascade, err := sys.Registry().Disable(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("disable %q: %w", id, err))
			continue
		}
		if len(cascade) > 0 {
			log.Infof("Disabled %q and its dependents %s", id, strings.Join(cascade, ", "))
		} else {
			log.Infof("Disabled %q", id)
		}
	}
	return errors.Join(errs...)
}

func newInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install SOURCE",
		Short: "Install a plugin from a directory, a plugin.json or a .zip archive",
		Args:  cobra.ExactArgs(1),
		RunE:  installAction,
	}
}

func installAction(cmd *cobra.Command, args []string) error {
	sys, _, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx := cmd.Context()
	sys.Registry().Scan(ctx)
	info, err := sys.Registry().Install(ctx, args[0])
	if err != nil {
		return err
	}
	log.WithField("path", info.Path).Infof("Installed %q version %s", info.ID, info.Manifest.Version)
	if len(info.MissingRequired) > 0 {
		log.Warnf("Plugin %q needs %s before it can be enabled", info.ID, strings.Join(info.MissingRequired, ", "))
	}
	return nil
}

func newDeleteCommand() *cobra.Command {
	deleteCommand := &cobra.Command{
		Use:     "delete PLUGIN [PLUGIN, ...]",
		Aliases: []string{"remove", "rm"},
		Short:   "Delete installed plugins",
		Args:    cobra.MinimumNArgs(1),
		RunE:    deleteAction,
	}
	deleteCommand.Flags().Bool("data", false, "Also delete the plugins' data directories")
	return deleteCommand
}

func deleteAction(cmd *cobra.Command, args []string) error {
	withData, err := cmd.Flags().GetBool("data")
	if err != nil {
		return err
	}
	sys, _, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx := cmd.Context()
	sys.Registry().Scan(ctx)
	for _, id := range args {
		if err := sys.Registry().Delete(ctx, id, withData); err != nil {
			if errors.Is(err, plugin.ErrNotFound) {
				log.Warnf("Ignoring unknown plugin %q", id)
				continue
			}
			return fmt.Errorf("failed to delete plugin %q: %w", id, err)
		}
		log.Infof("Deleted %q", id)
	}
	return nil
}
