// Package report turns cohort results into human-facing output: summary rows
// for table rendering and a merged wide-format CSV of every subject's tract
// profiles.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fascicle/internal/artifact"
	"fascicle/internal/cohort"
	"fascicle/internal/services"
	"fascicle/internal/tract"
)

var bundleTitle = cases.Title(language.Und, cases.NoLower)

// BundleTitle renders a bundle identifier like "CST_L" for display.
func BundleTitle(name string) string {
	return bundleTitle.String(strings.ReplaceAll(name, "_", " "))
}

// SummaryHeaders returns the column headers matching SummaryRows.
func SummaryHeaders() []string {
	return []string{"Subject", "Status", "Stages", "Cache Hits", "Duration", "Detail"}
}

// SummaryRows flattens a cohort result into per-subject display rows.
func SummaryRows(result *cohort.Result) [][]string {
	rows := make([][]string, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		status := "completed"
		detail := ""
		stages, hits := 0, 0
		if outcome.Result != nil {
			for _, record := range outcome.Result.Stages {
				if record.Err == nil {
					stages++
				}
				if record.CacheHit {
					hits++
				}
			}
		}
		if outcome.Failed() {
			status = "failed"
			detail = outcome.Err.Error()
		}
		rows = append(rows, []string{
			outcome.Subject,
			status,
			strconv.Itoa(stages),
			strconv.Itoa(hits),
			outcome.Duration.Round(10 * time.Millisecond).String(),
			detail,
		})
	}
	return rows
}

// CollectProfiles reads every successful subject's profile artifact from the
// store, keyed by subject.
func CollectProfiles(ctx context.Context, store *artifact.Store, result *cohort.Result) (map[string][]tract.Profile, error) {
	profiles := make(map[string][]tract.Profile)
	for _, outcome := range result.Outcomes {
		if outcome.Failed() || outcome.Result == nil {
			continue
		}
		key, ok := outcome.Result.TerminalKey()
		if !ok || key.Stage != "profiles" {
			continue
		}
		entry, err := store.Lookup(ctx, outcome.Subject, key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, services.Wrap(services.ErrStorage, "profiles", "report",
				"profile entry missing for subject "+outcome.Subject, nil)
		}
		data, err := store.Read(entry, artifact.RoleProfiles)
		if err != nil {
			return nil, err
		}
		var subjectProfiles []tract.Profile
		if err := json.Unmarshal(data, &subjectProfiles); err != nil {
			return nil, services.Wrap(services.ErrStorage, "profiles", "report",
				"decode profiles for subject "+outcome.Subject, err)
		}
		profiles[outcome.Subject] = subjectProfiles
	}
	return profiles, nil
}

// WriteProfilesCSV writes every subject's profiles as one wide table:
// subject, bundle, property, then one column per node. Rows are sorted so
// output is stable across runs.
func WriteProfilesCSV(w io.Writer, profiles map[string][]tract.Profile) error {
	nodes := 0
	for _, subjectProfiles := range profiles {
		for _, profile := range subjectProfiles {
			if len(profile.Values) > nodes {
				nodes = len(profile.Values)
			}
		}
	}

	type row struct {
		subject string
		profile tract.Profile
	}
	rows := make([]row, 0)
	for subject, subjectProfiles := range profiles {
		for _, profile := range subjectProfiles {
			rows = append(rows, row{subject: subject, profile: profile})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].subject != rows[j].subject {
			return rows[i].subject < rows[j].subject
		}
		if rows[i].profile.Bundle != rows[j].profile.Bundle {
			return rows[i].profile.Bundle < rows[j].profile.Bundle
		}
		return rows[i].profile.Property < rows[j].profile.Property
	})

	writer := csv.NewWriter(w)
	header := []string{"subject", "bundle", "property"}
	for i := 1; i <= nodes; i++ {
		header = append(header, fmt.Sprintf("node_%03d", i))
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range rows {
		record := []string{r.subject, r.profile.Bundle, r.profile.Property}
		for i := 0; i < nodes; i++ {
			if i < len(r.profile.Values) {
				record = append(record, strconv.FormatFloat(r.profile.Values[i], 'g', 6, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
