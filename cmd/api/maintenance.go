package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/config"
	"ambassador-ledger/internal/storage"
	"ambassador-ledger/internal/transfer"
)

// Maintenance commands run as the system actor against the configured
// database. They must not run while the API is serving writes.

func backupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Export a snapshot to the configured backup store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, config.FromContext(ctx), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.snapshotStore(ctx)
			if err != nil {
				return err
			}

			blob, err := a.transfer.Backup(ctx, authz.System)
			if err != nil {
				return err
			}
			snap, err := transfer.Decode(blob)
			if err != nil {
				return err
			}

			key := storage.KeyFor(snap.CreatedAt, snap.ID)
			if err := store.Put(ctx, key, blob); err != nil {
				return err
			}

			a.log.WithFields(map[string]any{
				"key":   key,
				"rows":  snap.RowCount(),
				"bytes": len(blob),
			}).Info("backup stored")
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func restoreCommand() *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "restore [key]",
		Short: "Replace all ledger data with a stored snapshot",
		Long: "Restore reads the snapshot named by key from the backup store, or " +
			"the file given with --file, and replaces every table in one transaction.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (len(args) == 1) == (fromFile != "") {
				return fmt.Errorf("give either a snapshot key or --file")
			}

			a, err := newApp(ctx, config.FromContext(ctx), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var blob []byte
			if fromFile != "" {
				blob, err = os.ReadFile(fromFile)
			} else {
				var store storage.SnapshotStore
				if store, err = a.snapshotStore(ctx); err == nil {
					blob, err = store.Get(ctx, args[0])
				}
			}
			if err != nil {
				return err
			}

			report, err := a.transfer.Restore(ctx, authz.System, blob)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "restore from a local snapshot file")
	return cmd
}

func listBackupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-backups",
		Short: "List stored snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, config.FromContext(ctx), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.snapshotStore(ctx)
			if err != nil {
				return err
			}
			objects, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, o := range objects {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func mergeCampusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge-campus <source-id> <target-id>",
		Short: "Fold one campus into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source campus id %q", args[0])
			}
			target, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid target campus id %q", args[1])
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, config.FromContext(ctx), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.transfer.MergeCampus(ctx, authz.System, source, target)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
