package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/park285/retrouci/internal/config"
	"github.com/park285/retrouci/internal/profile"
)

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List target profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTargets(cmd)
		},
	}
}

func runTargets(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return withCode(exitConfig, err)
	}
	catalog, err := profile.Load(cfg.ProfilesFile)
	if err != nil {
		return withCode(exitConfig, err)
	}
	return printTargets(cmd, catalog, cfg.Profile)
}

func printTargets(cmd *cobra.Command, catalog *profile.Catalog, current string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tYEAR\tDRIVER\tPLAYS\tCAPABILITIES")
	for _, key := range catalog.Keys() {
		p, err := catalog.Get(key)
		if err != nil {
			return err
		}
		mark := ""
		if key == current {
			mark = " *"
		}
		caps := strings.Join(p.Capabilities, ",")
		if caps == "" {
			caps = "-"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\t%s\n", key, mark, p.Name, p.Year, p.Driver, p.Color().Name(), caps)
	}
	return w.Flush()
}
