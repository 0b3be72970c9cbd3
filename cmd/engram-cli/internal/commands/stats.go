package commands

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewStatsCommand() *cobra.Command {
	var configPath, dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database counts and corpus health",
		Example: `  # Summarize the default database
  engram-cli stats

  # Point at another database file
  engram-cli stats --db /data/agent/engram.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := loadSetup(configPath, dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			bold := color.New(color.Bold)
			bold.Println("Episodic store")
			fmt.Printf("  episodes:       %d\n", stats.EpisodeCount)
			fmt.Printf("  steps:          %d\n", stats.StepCount)
			fmt.Printf("  policies:       %d\n", stats.PolicyCount)
			fmt.Printf("  success rate:   %.0f%%\n", stats.SuccessRate*100)

			bold.Println("Distillations")
			fmt.Printf("  active:         %d\n", stats.DistillationCount)
			fmt.Printf("  archived:       %d\n", stats.ArchivedCount)
			fmt.Printf("  high confidence: %d\n", stats.HighConfidenceCount)

			types := make([]string, 0, len(stats.DistillationsByType))
			for t := range stats.DistillationsByType {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("    %-13s %d\n", t+":", stats.DistillationsByType[t])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "engram.yaml", "configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	return cmd
}
