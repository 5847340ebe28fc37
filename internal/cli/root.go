// Package cli is the thin command surface over the sync pipeline. It
// owns no business logic: every command loads a project template via
// internal/settings and calls straight into internal/sync.Pipeline,
// printing the returned Outcome.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var templatePath string

// log is constructed once in cmd/cccopy/main.go and handed to Execute.
// The lock, privilege, and refresh packages take a logger as a
// constructor parameter; this var only lets the package-level cobra
// command tree reach the single logger each command needs.
var log zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "cccopy",
	Short: "Synchronize a per-user Work tree with a shared Production tree",
	Long: `cccopy lets many users edit the same shared project without a Git
server: Download pulls Production into your Work tree, Upload pushes your
Work changes back under a Production-wide lock, and Save commits your
Work tree locally.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&templatePath, "template", "t", "", "Path to the project template INI file (required)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cccopy %s\n", Version)
	},
}

// Execute runs the root command using logger for every command's
// internal diagnostic/audit logging.
func Execute(logger zerolog.Logger) error {
	log = logger
	return rootCmd.Execute()
}

// requireTemplate fails fast if --template was not supplied; every
// subcommand but "version" needs it.
func requireTemplate() error {
	if templatePath == "" {
		return fmt.Errorf("--template is required")
	}
	return nil
}

func printOutcomeWarnings(warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
	}
}
