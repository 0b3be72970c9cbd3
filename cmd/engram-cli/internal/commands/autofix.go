package commands

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/engram-go/pkg/curriculum"
)

func NewAutofixCommand() *cobra.Command {
	var (
		configPath, dbPath string
		maxCards           int
		minGain            float64
		apply              bool
		asJSON             bool
	)

	cmd := &cobra.Command{
		Use:   "autofix",
		Short: "Re-refine the weakest distillations in one batch",
		Long: `Builds a curriculum, takes the highest-priority targets, and runs the
refinement loop over each. Without --apply this is a dry run: the
report shows what would change but nothing is written. With --apply
the whole batch commits in a single transaction.`,
		Example: `  # Dry run
  engram-cli autofix

  # Persist improvements and promotions
  engram-cli autofix --apply --max-cards 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, err := loadSetup(configPath, dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := curriculum.DefaultAutofixOptions()
			opts.Apply = apply
			opts.IncludeArchive = cfg.Curriculum.IncludeArchive
			opts.MinGain = cfg.Curriculum.MinGain
			opts.PromoteMinUnified = cfg.Curriculum.PromoteMinUnified
			opts.SoftPromoteMinUnified = cfg.Curriculum.SoftPromoteMinUnified
			if maxCards > 0 {
				opts.MaxCards = maxCards
			}
			if minGain > 0 {
				opts.MinGain = minGain
			}

			fixer := curriculum.NewFixer(s, refinerFromConfig(cfg), nil, nil)
			report, err := fixer.RunAutofix(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if report.DBMissing {
				color.Yellow("database missing at %s, nothing to do", report.DBPath)
				return nil
			}

			mode := "dry run"
			if report.Apply {
				mode = "applied"
			}
			fmt.Printf("%s: %d candidates, %d attempted, %d updated, %d promoted\n",
				mode, report.Candidates, report.Attempted, report.Updated, report.ArchivePromoted)
			if report.ArchiveAttempted > 0 {
				fmt.Printf("archive update rate: %.0f%%\n", report.ArchiveUpdateRate*100)
				if report.ArchiveStagnationDetected {
					color.Yellow("archive refinement is stagnating")
				}
			}
			for _, row := range report.Rows {
				if row.Action == "noop" {
					continue
				}
				fmt.Printf("  %-14s %s/%s  %.2f -> %.2f\n",
					row.Action, row.Source, row.DistillationID, row.OldUnified, row.NewUnified)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "engram.yaml", "configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	cmd.Flags().IntVar(&maxCards, "max-cards", 0, "batch size limit (overrides config)")
	cmd.Flags().Float64Var(&minGain, "min-gain", 0, "minimum unified-score gain (overrides config)")
	cmd.Flags().BoolVar(&apply, "apply", false, "persist changes (default is dry run)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw report as JSON")
	return cmd
}
