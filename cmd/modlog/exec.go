package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/command"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec [--as ID] [--image FILE]... COMMAND...",
	Short: "Run one chat command and print the reply",
	Long: `Run one chat command as the given identity and print the reply.
The keyword may be omitted:

  modlog exec --as 11111 detail 12
  modlog exec --as 11111 --image proof.png silence 123456 flooding main 30m

Images are attached in the order given, starting at position 1.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().String("as", "", "Identity the command is sent as")
	execCmd.Flags().StringArray("image", nil, "Image file to attach (repeatable)")
	execCmd.MarkFlagRequired("as")
}

func runExec(cmd *cobra.Command, args []string) error {
	caller, _ := cmd.Flags().GetString("as")
	imagePaths, _ := cmd.Flags().GetStringArray("image")

	images := make(map[int][]byte, len(imagePaths))
	for i, path := range imagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		images[i+1] = data
	}

	mgr, _, err := openManager(cmd)
	if err != nil {
		return err
	}
	mgr.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	}()

	d := command.New(mgr)
	text := strings.Join(args, " ")
	if !command.IsCommand(text, d.Keyword()) {
		text = d.Keyword() + " " + text
	}

	reply, _ := d.Handle(cmd.Context(), command.Request{
		Text:   text,
		Caller: caller,
		Images: images,
	})
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
