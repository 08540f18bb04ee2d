package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func newSnapshotCommand() *cobra.Command {
	snapshotCommand := &cobra.Command{
		Use:   "snapshot",
		Short: "Start the enabled plugins and print the UI state they produce as JSON",
		Args:  cobra.NoArgs,
		RunE:  snapshotAction,
	}
	snapshotCommand.Flags().Duration("wait", 0, "Time to let plugins run before taking the snapshot")
	return snapshotCommand
}

func snapshotAction(cmd *cobra.Command, _ []string) error {
	wait, err := cmd.Flags().GetDuration("wait")
	if err != nil {
		return err
	}
	sys, _, log, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer shutdown(sys, log)

	ctx := cmd.Context()
	if _, err := sys.Start(ctx); err != nil {
		log.WithError(err).Warn("Persisted plugins could not be restored")
	}
	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sys.Snapshot())
}
