package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/storage"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

// legacyModes maps the action names stored by the old bot
var legacyModes = map[string]types.Action{
	"禁言": types.ActionMute,
	"踢出": types.ActionKick,
	"封禁": types.ActionBan,
	"拉黑": types.ActionBan,
	"警告": types.ActionWarn,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modlog-migrate LEGACY_DB",
	Short: "Import logs from the legacy schema",
	Long: `Import every row of a legacy logs table (target, mode, group_id, time
columns) into a modlog database, keeping ids.

Modes are mapped through the built-in legacy names and, with --style, the
action nicknames of a style file. Rows with an unmapped mode abort the
import unless --skip-unmapped is set. An existing target database is
copied to <db>.pre-migrate-<time> first.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigrate,
}

func init() {
	rootCmd.Flags().String("db", "modlog.db", "Target modlog database")
	rootCmd.Flags().String("style", "", "Style file whose action nicknames are also accepted")
	rootCmd.Flags().Bool("dry-run", false, "Show what would be imported without making changes")
	rootCmd.Flags().Bool("skip-unmapped", false, "Skip rows whose mode cannot be mapped")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	stylePath, _ := cmd.Flags().GetString("style")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skip, _ := cmd.Flags().GetBool("skip-unmapped")
	level, _ := cmd.Flags().GetString("log-level")

	log.Init(log.Config{Level: log.Level(level), Output: os.Stderr})
	logger := log.WithComponent("migrate")
	ctx := cmd.Context()

	modes, err := modeTable(stylePath)
	if err != nil {
		return err
	}

	entries, unmapped, err := readLegacy(ctx, args[0], modes)
	if err != nil {
		return err
	}
	logger.Info().
		Str("source", args[0]).
		Int("rows", len(entries)).
		Int("unmapped", countValues(unmapped)).
		Msg("Legacy logs read")
	for mode, n := range unmapped {
		logger.Warn().Str("mode", mode).Int("rows", n).Msg("Unmapped mode")
	}
	if len(unmapped) > 0 && !skip {
		return fmt.Errorf("%d mode(s) cannot be mapped; pass --style or --skip-unmapped", len(unmapped))
	}

	out := cmd.OutOrStdout()
	if dryRun {
		fmt.Fprintf(out, "[DRY RUN] Would import %d log(s) into %s\n", len(entries), dbPath)
		return nil
	}

	if _, err := os.Stat(dbPath); err == nil {
		if err := preMigrateCopy(ctx, dbPath); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLiteStore(dbPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Import(ctx, entries)
	if err != nil {
		return fmt.Errorf("import failed, no rows written: %w", err)
	}
	fmt.Fprintf(out, "✓ Imported %d log(s) into %s\n", n, dbPath)
	return nil
}

// modeTable merges the legacy names with a style's action nicknames
func modeTable(stylePath string) (map[string]types.Action, error) {
	modes := make(map[string]types.Action, len(legacyModes))
	for k, v := range legacyModes {
		modes[k] = v
	}
	for _, a := range types.Actions {
		modes[string(a)] = a
	}
	if stylePath == "" {
		return modes, nil
	}

	data, err := os.ReadFile(stylePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read style: %w", err)
	}
	s, err := config.ParseStyle(stylePath, data)
	if err != nil {
		return nil, err
	}
	for nick, a := range s.Actions {
		modes[nick] = a
	}
	return modes, nil
}

// readLegacy loads every legacy row, returning the mapped entries and a
// count of rows per unmapped mode
func readLegacy(ctx context.Context, path string, modes map[string]types.Action) ([]*types.LogEntry, map[string]int, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("legacy database not found: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT id, target, mode, reason, operator, duration, group_id, time FROM logs ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read legacy logs: %w", err)
	}
	defer rows.Close()

	var entries []*types.LogEntry
	unmapped := make(map[string]int)
	for rows.Next() {
		var (
			e        types.LogEntry
			mode     string
			operator sql.NullString
			duration sql.NullString
			stamp    any
		)
		if err := rows.Scan(&e.ID, &e.Subject, &mode, &e.Reason, &operator, &duration, &e.Group, &stamp); err != nil {
			return nil, nil, fmt.Errorf("failed to scan legacy row: %w", err)
		}

		action, ok := modes[strings.TrimSpace(mode)]
		if !ok {
			unmapped[mode]++
			continue
		}
		e.Action = action
		e.Operator = operator.String
		if action.RequiresDuration() {
			e.Duration = duration.String
		}
		if e.Timestamp, err = legacyTime(stamp); err != nil {
			return nil, nil, fmt.Errorf("log %d: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return entries, unmapped, nil
}

func legacyTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.In(time.Local), nil
	case string:
		return parseLegacyTime(t)
	case []byte:
		return parseLegacyTime(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}

func parseLegacyTime(s string) (time.Time, error) {
	for _, layout := range []string{types.TimeLayout, "2006-01-02 15:04:05.999999", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

// preMigrateCopy snapshots the target database next to itself
func preMigrateCopy(ctx context.Context, dbPath string) error {
	store, err := storage.NewSQLiteStore(dbPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	target := dbPath + ".pre-migrate-" + time.Now().Format("20060102_150405")
	n, err := store.OnlineBackup(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to copy target database: %w", err)
	}
	logger := log.WithComponent("migrate")
	logger.Info().Str("copy", target).Int("entries", n).Msg("Target database copied")
	return nil
}

func countValues(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
