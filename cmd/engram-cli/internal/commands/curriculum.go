package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/engram-go/pkg/curriculum"
)

func NewCurriculumCommand() *cobra.Command {
	var (
		configPath, dbPath string
		maxCards           int
		skipArchive        bool
		asJSON             bool
	)

	cmd := &cobra.Command{
		Use:   "curriculum",
		Short: "Scan the corpus and print prioritized gap cards",
		Example: `  # Markdown report for the default database
  engram-cli curriculum

  # Raw JSON, active table only
  engram-cli curriculum --json --skip-archive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, err := loadSetup(configPath, dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := curriculum.BuildOptions{
				MaxRows:        cfg.Curriculum.MaxRows,
				MaxCards:       cfg.Curriculum.MaxCards,
				IncludeArchive: cfg.Curriculum.IncludeArchive && !skipArchive,
			}
			if maxCards > 0 {
				opts.MaxCards = maxCards
			}

			builder := curriculum.NewBuilder(s, nil)
			report, err := builder.BuildCurriculum(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if cfg.Storage.HistoryPath != "" && !report.DBMissing {
				if err := curriculum.AppendHistory(cfg.Storage.HistoryPath, report.History()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
			}

			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Print(report.Markdown())
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "engram.yaml", "configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	cmd.Flags().IntVar(&maxCards, "max-cards", 0, "card limit (overrides config)")
	cmd.Flags().BoolVar(&skipArchive, "skip-archive", false, "scan the active table only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw report as JSON")
	return cmd
}
