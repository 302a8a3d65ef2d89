package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/session"
)

func newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Run one UCI session over stdin/stdout",
		Long: `Run one UCI session over stdin/stdout. Point a chess GUI at this command
as its engine. stdout carries only UCI lines; logs go to stderr or --log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, deps, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(cfg, deps)

			obslog.L().Info("play_start", zap.String("profile", cfg.Profile))
			return session.ServeLines(cmd.Context(), os.Stdin, os.Stdout, deps.Runner.Bind(cfg.Profile))
		},
	}
}
