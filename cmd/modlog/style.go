package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/modlog/pkg/config"
	"github.com/spf13/cobra"
)

// Style commands
var styleCmd = &cobra.Command{
	Use:   "style",
	Short: "Inspect style files",
}

var styleCheckCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Validate style files",
	Long: `Parse each style file and check its nickname tables against the
known actions, fields and command verbs. Exits non-zero if any file is
invalid.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(out, "✗ %s: %v\n", path, err)
				failed++
				continue
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			s, err := config.ParseStyle(name, data)
			if err != nil {
				fmt.Fprintf(out, "✗ %s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Fprintf(out, "✓ %s: %d action(s), %d field(s), %d group(s), %d operator(s)\n",
				path, len(s.Actions), len(s.Fields), len(s.Groups), len(s.Operators))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d style file(s) invalid", failed, len(args))
		}
		return nil
	},
}

var styleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List styles in the styles directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		names, err := config.ListStyles(cfg.StylesDir)
		if err != nil {
			return err
		}
		for i, name := range names {
			marker := " "
			if name == cfg.Style {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d. %s\n", marker, i+1, name)
		}
		return nil
	},
}

func init() {
	styleCmd.AddCommand(styleCheckCmd)
	styleCmd.AddCommand(styleListCmd)
}
