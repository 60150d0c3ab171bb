package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fascicle/internal/cohort"
	"fascicle/internal/ledger"
	"fascicle/internal/logging"
	"fascicle/internal/params"
	"fascicle/internal/preflight"
	"fascicle/internal/report"
)

func newRunCommand(cmdCtx *commandContext) *cobra.Command {
	var workersFlag int
	var skipPreflight bool
	var reportPath string

	cmd := &cobra.Command{
		Use:   "run [subject...]",
		Short: "Run the tractometry pipeline over a cohort",
		Long: "Runs every named subject through the pipeline, reusing cached stage " +
			"outputs where provenance keys match. With no arguments the cohort comes " +
			"from configuration, or from scanning the data directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			if !skipPreflight {
				results := preflight.RunAll(cfg)
				if !preflight.Passed(results) {
					fmt.Fprintln(cmd.OutOrStdout(), renderPreflight(results))
					return fmt.Errorf("preflight checks failed")
				}
			}

			subjects := args
			if len(subjects) == 0 {
				subjects = cfg.Cohort.Subjects
			}
			if len(subjects) == 0 {
				discovered, err := cohort.DiscoverSubjects(cfg.Paths.DataDir)
				if err != nil {
					return err
				}
				subjects = discovered
			}
			if len(subjects) == 0 {
				return fmt.Errorf("no subjects to run: pass ids, set cohort.subjects, or populate %s", cfg.Paths.DataDir)
			}

			workers := cfg.Cohort.Workers
			if workersFlag > 0 {
				workers = workersFlag
			}

			logger, err := logging.NewForRun(cfg.Paths.LogDir, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			store, err := cmdCtx.openStore(logger)
			if err != nil {
				return err
			}
			graph, err := cmdCtx.buildGraph(store, logger)
			if err != nil {
				return err
			}
			set := params.FromConfig(cfg)
			scheduler, err := cohort.New(graph, set, cfg.Paths.DataDir, workers, cfg.Overrides, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := scheduler.Run(ctx, subjects)

			runLedger, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer runLedger.Close()
			if err := runLedger.RecordRun(cmd.Context(), result, set.Digest()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s\n", result.RunID)
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(result))

			if reportPath != "" {
				profiles, err := report.CollectProfiles(cmd.Context(), store, result)
				if err != nil {
					return err
				}
				file, err := os.Create(reportPath)
				if err != nil {
					return fmt.Errorf("create report file: %w", err)
				}
				defer file.Close()
				if err := report.WriteProfilesCSV(file, profiles); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote profiles for %d subjects to %s\n", len(profiles), reportPath)
			}

			if result.Failed() > 0 {
				return fmt.Errorf("%d of %d subjects failed", result.Failed(), len(result.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workersFlag, "workers", 0, "Override the configured worker count")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip environment checks before running")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the run's profile CSV to this path")
	return cmd
}
