package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"annotator/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "annotator",
	Short: "Annotator - OCR and review pipeline for study screenshots",
	Long: `Annotator registers participant screenshots, extracts their text with OCR,
and reconciles reviewer corrections with the extracted text.

Images live under one of the configured image roots (IMAGE_ROOTS) as
images/<study>/<participant>/<file>. OCR results and corrections are stored
in a SQLite database (DATABASE_PATH).`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Annotator CLI executed")

		fmt.Println("Welcome to Annotator!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
