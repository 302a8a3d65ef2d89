// Package main is the retrouci command: a UCI front end for legacy chess programs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/bridgebuilder"
	"github.com/park285/retrouci/internal/config"
	"github.com/park285/retrouci/internal/connector"
	"github.com/park285/retrouci/internal/obslog"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK       = 0
	exitGeneral  = 1
	exitUsage    = 2
	exitConfig   = 3
	exitCritical = 4
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		return handleError(err)
	}
	return exitOK
}

func handleError(err error) int {
	fmt.Fprintf(os.Stderr, "retrouci: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// the Connector only returns its fault when the session ended critically
	if _, ok := connector.KindOf(err); ok {
		return exitCritical
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") {
		fmt.Fprintln(os.Stderr, "Run 'retrouci --help' for usage")
		return exitUsage
	}
	return exitGeneral
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "retrouci",
		Short: "Drive legacy chess programs as UCI engines",
		Long: `retrouci speaks UCI to a chess GUI and drives an emulated legacy chess
program behind it, translating moves, positions and search commands into
what the old program understands.

  retrouci play -g grandmaster     UCI over stdin/stdout (add this to your GUI)
  retrouci serve                   UCI over websocket at /uci?profile=<key>
  retrouci targets                 List the built-in and override profiles`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list, _ := cmd.Flags().GetBool("list-games"); list {
				return runTargets(cmd)
			}
			return cmd.Help()
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	root.Flags().Bool("list-games", false, "alias of `retrouci targets`")

	root.AddCommand(
		newPlayCmd(),
		newServeCmd(),
		newTargetsCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads config, installs the logger and builds the runtime graph.
func setup(cmd *cobra.Command) (*config.AppConfig, *bridgebuilder.Deps, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, withCode(exitConfig, err)
	}
	opts := obslog.OptionsFromEnv()
	if cfg.LogFile != "" {
		opts.File = cfg.LogFile
		opts.ToFile = true
	}
	if err := obslog.Init(opts); err != nil {
		return nil, nil, withCode(exitConfig, fmt.Errorf("init logger: %w", err))
	}
	deps, err := bridgebuilder.New(cfg, obslog.L())
	if err != nil {
		return nil, nil, withCode(exitConfig, err)
	}
	if _, err := deps.Catalog.Get(cfg.Profile); err != nil {
		closeDeps(cfg, deps)
		return nil, nil, withCode(exitConfig, err)
	}
	return cfg, deps, nil
}

func closeDeps(cfg *config.AppConfig, deps *bridgebuilder.Deps) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := deps.Close(ctx); err != nil {
		obslog.L().Warn("shutdown_error", zap.Error(err))
	}
	obslog.Sync()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "retrouci %s (%s)\n", version, commit)
		},
	}
}
