package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/engram-go/cmd/engram-cli/internal/commands"
)

var rootCmd = &cobra.Command{
	Use:   "engram-cli",
	Short: "Inspect and maintain an episodic memory database",
	Long: `A command-line interface for the engram-go episodic memory core.

The CLI provides:
- Database statistics and corpus health overview
- Curriculum scans that surface low-quality distillations
- The auto-fix batch that re-refines and promotes rules
- Parquet export of the distillation corpus`,
	Version: "0.1.0",
}

func init() {
	rootCmd.AddCommand(commands.NewStatsCommand())
	rootCmd.AddCommand(commands.NewCurriculumCommand())
	rootCmd.AddCommand(commands.NewAutofixCommand())
	rootCmd.AddCommand(commands.NewExportCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
