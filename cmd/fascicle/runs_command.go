package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fascicle/internal/ledger"
)

func newRunsCommand(cmdCtx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List cohort run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			runLedger, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer runLedger.Close()

			runs, err := runLedger.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					run.Started.Local().Format(time.DateTime),
					run.Finished.Sub(run.Started).Round(time.Second).String(),
					strconv.Itoa(run.Subjects),
					strconv.Itoa(run.Succeeded),
					strconv.Itoa(run.Failed),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Started", "Duration", "Subjects", "Succeeded", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	cmd.AddCommand(newRunsShowCommand(cmdCtx))
	return cmd
}

func newRunsShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's subjects and stage events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			runLedger, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer runLedger.Close()

			detail, err := runLedger.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d subjects, %d succeeded, %d failed\n",
				detail.ID, detail.Subjects, detail.Succeeded, detail.Failed)

			rows := make([][]string, 0)
			for _, subject := range detail.Records {
				for _, event := range subject.Stages {
					hit := ""
					if event.CacheHit {
						hit = "hit"
					}
					rows = append(rows, []string{
						subject.Subject,
						event.Stage,
						shortKey(event.Key),
						hit,
						event.Status,
						(time.Duration(event.DurationMS) * time.Millisecond).String(),
						event.Error,
					})
				}
				if len(subject.Stages) == 0 {
					rows = append(rows, []string{subject.Subject, "-", "-", "", subject.Status, "", subject.Error})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Subject", "Stage", "Key", "Cache", "Status", "Duration", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}
