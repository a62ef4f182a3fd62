package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drainscan",
		Short: "Drainage-plan analysis with guided symbol detection",
		Long: `Drainscan reconstructs drainage networks from scanned plan PDFs.

It extracts structure labels via OCR, detects drainage symbols near those
labels, and fits pipe runs through the repeating pipe markers drawn along
them. Symbol detection and module association are gated on human review.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReplayCmd())

	return cmd
}
