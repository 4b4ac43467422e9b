package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/modlog/pkg/api"
	"github.com/cuemby/modlog/pkg/command"
	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/events"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the log engine",
	Long: `Run the mutation worker, the backup schedule, the style watcher and
the health endpoints until interrupted.

With --console, lines read from stdin are handled as chat commands sent
by the identity given with --as, and replies are printed to stdout.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("console", false, "Read commands from stdin")
	serveCmd.Flags().String("as", "", "Identity console commands are sent as")
}

func runServe(cmd *cobra.Command, args []string) error {
	console, _ := cmd.Flags().GetBool("console")
	caller, _ := cmd.Flags().GetString("as")
	if console && caller == "" {
		return fmt.Errorf("--console needs --as")
	}

	mgr, cfg, err := openManager(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("serve")

	watcher, err := config.NewWatcher(mgr.Styles(), 0)
	if err != nil {
		mgr.Shutdown(context.Background())
		return err
	}
	defer watcher.Close()

	mgr.Start()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return api.NewHealthServer(mgr).Serve(gctx, cfg.HTTP.Addr) })

	sub := mgr.Events().Subscribe()
	g.Go(func() error {
		defer mgr.Events().Unsubscribe(sub)
		logEvents(gctx, sub)
		return nil
	})

	if console {
		// Reads from stdin cannot be interrupted, so the console is not
		// part of the group
		go runConsole(gctx, command.New(mgr), caller, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	logger.Info().Str("addr", cfg.HTTP.Addr).Msg("modlog is running")
	runErr := g.Wait()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Service stopped on error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete")
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// logEvents writes broker events to the log until ctx ends
func logEvents(ctx context.Context, sub events.Subscriber) {
	logger := log.WithComponent("events")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			e := logger.Info().Str("type", string(ev.Type))
			if ev.Actor != "" {
				e = e.Str("actor", ev.Actor)
			}
			for k, v := range ev.Metadata {
				e = e.Str(k, v)
			}
			e.Msg(ev.Message)
		}
	}
}

// runConsole handles one command per input line
func runConsole(ctx context.Context, d *command.Dispatcher, caller string, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, ok := d.Handle(ctx, command.Request{Text: line, Caller: caller})
		if !ok {
			fmt.Fprintf(out, "not a command, start with %q\n", d.Keyword())
			continue
		}
		fmt.Fprintln(out, reply)
	}
}
