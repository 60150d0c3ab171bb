package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fascicle/internal/preflight"
)

func newPreflightCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, disk space, tools, and templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cfg)
			fmt.Fprintln(cmd.OutOrStdout(), renderPreflight(results))
			if !preflight.Passed(results) {
				return fmt.Errorf("preflight checks failed")
			}
			return nil
		},
	}
}
