package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fascicle/internal/artifact"
	"fascicle/internal/ledger"
	"fascicle/internal/provenance"
	"fascicle/internal/report"
	"fascicle/internal/tract"
)

func newReportCommand(cmdCtx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Export a run's tract profiles as merged wide-format CSV",
		Long: "Collects every completed subject's profile artifact from the named " +
			"run (default: the most recent) and writes one CSV with a row per " +
			"subject, bundle, and property.",
		Args: cobra.MaximumNArgs(1),
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

			runID := ""
			if len(args) == 1 {
				runID = args[0]
			} else {
				runs, err := runLedger.Runs(cmd.Context(), 1)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					return fmt.Errorf("no runs recorded yet")
				}
				runID = runs[0].ID
			}
			detail, err := runLedger.Run(cmd.Context(), runID)
			if err != nil {
				return err
			}

			logger, err := cmdCtx.quietLogger()
			if err != nil {
				return err
			}
			store, err := cmdCtx.openStore(logger)
			if err != nil {
				return err
			}

			profiles, err := collectRunProfiles(cmd, store, detail)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				return fmt.Errorf("run %s has no completed subjects to report", runID)
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create report file: %w", err)
				}
				defer file.Close()
				out = file
			}
			if err := report.WriteProfilesCSV(out, profiles); err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote profiles for %d subjects to %s\n", len(profiles), outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the CSV to a file instead of stdout")
	return cmd
}

// collectRunProfiles resolves each completed subject's recorded profiles key
// against the artifact store.
func collectRunProfiles(cmd *cobra.Command, store *artifact.Store, detail *ledger.RunDetail) (map[string][]tract.Profile, error) {
	profiles := make(map[string][]tract.Profile)
	for _, record := range detail.Records {
		if record.Status != ledger.StatusCompleted {
			continue
		}
		for _, event := range record.Stages {
			if event.Stage != "profiles" || event.Status != ledger.StatusCompleted {
				continue
			}
			key, err := provenance.Parse(event.Key)
			if err != nil {
				return nil, err
			}
			entry, err := store.Lookup(cmd.Context(), record.Subject, key)
			if err != nil {
				return nil, err
			}
			if entry == nil {
				return nil, fmt.Errorf("profiles for %s are no longer cached; rerun the cohort", record.Subject)
			}
			data, err := store.Read(entry, artifact.RoleProfiles)
			if err != nil {
				return nil, err
			}
			var subjectProfiles []tract.Profile
			if err := json.Unmarshal(data, &subjectProfiles); err != nil {
				return nil, fmt.Errorf("decode profiles for %s: %w", record.Subject, err)
			}
			profiles[record.Subject] = subjectProfiles
		}
	}
	return profiles, nil
}
