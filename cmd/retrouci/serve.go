package main

import (
	"github.com/spf13/cobra"

	"github.com/park285/retrouci/internal/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve UCI sessions over websocket",
		Long: `Serve UCI sessions over websocket. Each connection to /uci?profile=<key>
is one session; the profile defaults to --profile. GET /sessions lists live
sessions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, deps, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(cfg, deps)

			srv := session.NewWSServer(deps.Runner, deps.Journal, cfg.Profile)
			return srv.ListenAndServe(cmd.Context(), cfg.ListenAddr)
		},
	}
}
