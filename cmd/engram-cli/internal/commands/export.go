package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/engram-go/pkg/export"
)

func NewExportCommand() *cobra.Command {
	var (
		configPath, dbPath string
		out                string
		limit              int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the distillation corpus to a Parquet file",
		Example: `  # Export up to 1000 rows
  engram-cli export --out corpus.parquet

  # Cap the export
  engram-cli export --out corpus.parquet --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := loadSetup(configPath, dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := export.WriteCorpusParquet(cmd.Context(), s, out, limit)
			if err != nil {
				return err
			}
			color.Green("wrote %d distillations to %s", n, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "engram.yaml", "configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (overrides config)")
	cmd.Flags().StringVar(&out, "out", "corpus.parquet", "output file")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum rows to export")
	return cmd
}
