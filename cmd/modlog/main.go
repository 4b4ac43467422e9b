package main

import (
	"fmt"
	"os"

	"github.com/cuemby/modlog/pkg/chat"
	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/manager"
	"github.com/cuemby/modlog/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modlog",
	Short: "modlog - moderation log engine for chat groups",
	Long: `modlog records moderation actions taken in chat groups, keeps a
per-member risk score, and backs the log up on a schedule.

Operators drive it with "log ..." commands in chat; this binary runs the
service and exposes the same commands on the terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"modlog version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "modlog.yml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("roster", "", "Path to a YAML roster of group members")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().Bool("json", false, "Write logs as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(styleCmd)
}

// loadConfig reads the configuration and initializes logging. Logs go to
// stderr so command replies on stdout stay clean.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		level = lvl
	}
	jsonOut := cfg.Log.JSON
	if cmd.Flags().Changed("json") {
		jsonOut, _ = cmd.Flags().GetBool("json")
	}
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOut,
		Output:     os.Stderr,
	})
	metrics.SetVersion(Version)
	return cfg, nil
}

// openManager builds a manager from the command's flags. The caller
// starts and shuts it down.
func openManager(cmd *cobra.Command) (*manager.Manager, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.StylesDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create styles dir: %w", err)
	}
	styles, err := config.NewProvider(cfg.StylesDir, cfg.Style)
	if err != nil {
		return nil, nil, err
	}

	rosterPath, _ := cmd.Flags().GetString("roster")
	client, err := chat.LoadRoster(rosterPath)
	if err != nil {
		return nil, nil, err
	}

	mgr, err := manager.New(manager.Config{
		App:    cfg,
		Styles: styles,
		Client: client,
	})
	if err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}
