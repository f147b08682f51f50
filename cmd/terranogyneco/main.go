package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/terranogyneco/internal/dotenv"
	"github.com/vango-go/terranogyneco/internal/telemetry"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
)

// cliDeps are the process-level collaborators of every command. Tests
// replace them to run commands without touching the real environment.
type cliDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.Load,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

// app carries the state shared by subcommands once the root command has
// parsed its persistent flags.
type app struct {
	deps     cliDeps
	logLevel string
	logger   *slog.Logger
}

func (a *app) config() (config.Config, error) {
	cfg, err := a.deps.loadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// startTracing installs the configured span exporter. The returned
// function flushes it.
func (a *app) startTracing(ctx context.Context, cfg config.Config) (func(), error) {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "terranogyneco",
		Exporter:    cfg.TracesExporter,
		Stdout:      a.deps.stderr,
	})
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			a.logger.Warn("flush traces failed", "error", err)
		}
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
	return level, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "terranogyneco",
		Short:         "Voice assistant for gynecologists",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(a.logLevel)
			if err != nil {
				return err
			}
			a.logger = slog.New(slog.NewTextHandler(a.deps.stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.SetIn(a.deps.stdin)
	root.SetOut(a.deps.stdout)
	root.SetErr(a.deps.stderr)

	root.AddCommand(
		newServeCmd(a),
		newTalkCmd(a),
		newHistoryCmd(a),
		newUsersCmd(a),
		newMigrateCmd(a),
	)
	return root
}

func runMain(ctx context.Context, args []string, deps cliDeps) int {
	if deps.stderr == nil {
		deps.stderr = os.Stderr
	}
	if deps.stdout == nil {
		deps.stdout = os.Stdout
	}

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(deps.stderr, "terranogyneco: %v\n", err)
		return 1
	}

	root := newRootCmd(&app{deps: deps, logger: slog.Default()})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(deps.stderr, "terranogyneco: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], defaultCLIDeps()))
}
