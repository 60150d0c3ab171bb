package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCommand(cmdCtx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate cached stage outputs",
	}
	cacheCmd.AddCommand(newCacheLsCommand(cmdCtx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(cmdCtx))
	return cacheCmd
}

func newCacheLsCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <subject>",
		Short: "List a subject's cached entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cmdCtx.quietLogger()
			if err != nil {
				return err
			}
			store, err := cmdCtx.openStore(logger)
			if err != nil {
				return err
			}

			entries, err := store.Entries(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No cached entries for %s.\n", args[0])
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				var size int64
				for _, f := range entry.Outputs {
					size += f.Size
				}
				rows = append(rows, []string{
					entry.Key.Stage,
					entry.Key.Short(),
					entry.StoredAt.Local().Format(time.DateTime),
					strconv.Itoa(len(entry.Outputs)),
					formatBytes(size),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Stage", "Key", "Stored", "Outputs", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newCacheInvalidateCommand(cmdCtx *commandContext) *cobra.Command {
	var stageFlag string
	var keyPrefix string
	var all bool

	cmd := &cobra.Command{
		Use:   "invalidate <subject>",
		Short: "Remove cached entries so the next run recomputes them",
		Long: "Removes a subject's cached entries selected by stage, key prefix, or " +
			"--all. Downstream entries need no explicit removal: a recomputed " +
			"upstream output re-keys everything that depended on it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stageFlag == "" && keyPrefix == "" && !all {
				return fmt.Errorf("select entries with --stage, --key, or --all")
			}

			logger, err := cmdCtx.quietLogger()
			if err != nil {
				return err
			}
			store, err := cmdCtx.openStore(logger)
			if err != nil {
				return err
			}

			entries, err := store.Entries(args[0])
			if err != nil {
				return err
			}

			removed := 0
			for _, entry := range entries {
				if stageFlag != "" && entry.Key.Stage != stageFlag {
					continue
				}
				if keyPrefix != "" && !strings.HasPrefix(entry.Key.Digest, keyPrefix) {
					continue
				}
				if err := store.Invalidate(cmd.Context(), args[0], entry.Key); err != nil {
					return err
				}
				removed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %d entries for %s.\n", removed, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only entries for this stage")
	cmd.Flags().StringVar(&keyPrefix, "key", "", "Only entries whose key digest has this prefix")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every cached entry for the subject")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
