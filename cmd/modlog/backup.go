package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/modlog/pkg/manager"
	"github.com/spf13/cobra"
)

// Backup commands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage log backups",
}

var backupMakeCmd = &cobra.Command{
	Use:   "make [NAME]",
	Short: "Create a backup now",
	Long: `Snapshot the log database and the media directory into one archive.

Without NAME the archive is named after the current time. Old archives
beyond the configured limit are removed afterwards.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return withManager(cmd, false, func(ctx context.Context, mgr *manager.Manager) error {
			archive, err := mgr.TriggerBackup(ctx, name)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup created: %s (%d bytes)\n", archive.Name, archive.Size)
			return nil
		})
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, false, func(ctx context.Context, mgr *manager.Manager) error {
			archives, err := mgr.ListBackups()
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tNAME\tSIZE\tCREATED")
			for i, a := range archives {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", i+1, a.Name, a.Size, a.ModTime.Format(time.DateTime))
			}
			return w.Flush()
		})
	},
}

var backupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backup schedule and the last backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, false, func(ctx context.Context, mgr *manager.Manager) error {
			st, err := mgr.Scheduler().Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Auto backup: %s\n", onOff(st.Enabled))
			fmt.Fprintf(out, "Daily check: %s, every %d day(s), keep %d\n", st.Time, st.DelayDays, st.Limit)
			if st.HasLast {
				fmt.Fprintf(out, "Last backup: %s\n", st.Last.Format(time.DateTime))
			} else {
				fmt.Fprintln(out, "Last backup: never")
			}
			return nil
		})
	},
}

var backupAutoCmd = &cobra.Command{
	Use:       "auto on|off",
	Short:     "Switch scheduled backups on or off",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch strings.ToLower(args[0]) {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withManager(cmd, false, func(ctx context.Context, mgr *manager.Manager) error {
			if err := mgr.Scheduler().SetEnabled(on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Auto backup %s\n", onOff(on))
			return nil
		})
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, false, func(ctx context.Context, mgr *manager.Manager) error {
			if err := mgr.DeleteBackup(args[0]); err != nil {
				return fmt.Errorf("failed to delete backup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup deleted: %s\n", args[0])
			return nil
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore NAME",
	Short: "Replace the log and media with a backup",
	Long: `Replace every log entry and the media directory with the contents of
a backup. The current state is backed up first as "pre-restore_<time>".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caller, _ := cmd.Flags().GetString("as")
		return withManager(cmd, true, func(ctx context.Context, mgr *manager.Manager) error {
			n, err := mgr.RestoreBackup(ctx, args[0], caller)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %d log(s) from %s\n", n, args[0])
			return nil
		})
	},
}

func init() {
	backupRestoreCmd.Flags().String("as", "cli", "Identity the restore is recorded as")

	backupCmd.AddCommand(backupMakeCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupStatusCmd)
	backupCmd.AddCommand(backupAutoCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

// withManager opens a manager for the duration of fn. Commands that write
// through the mutation worker pass start.
func withManager(cmd *cobra.Command, start bool, fn func(ctx context.Context, mgr *manager.Manager) error) error {
	mgr, _, err := openManager(cmd)
	if err != nil {
		return err
	}
	if start {
		mgr.Start()
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	}()
	return fn(cmd.Context(), mgr)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
