package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/cccopy/internal/refresh"
	"github.com/re-cinq/cccopy/internal/settings"
	"github.com/re-cinq/cccopy/internal/sync"
)

var saveMessage string

func init() {
	saveCmd.Flags().StringVarP(&saveMessage, "message", "m", "", "Commit message (required)")
	rootCmd.AddCommand(saveCmd)
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Commit every pending change in Work (no lock: Work is single-user)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTemplate(); err != nil {
			return err
		}
		if saveMessage == "" {
			return fmt.Errorf("--message is required")
		}

		proj, err := settings.LoadTemplate(templatePath)
		if err != nil {
			return err
		}

		p := sync.New(proj, refresh.NewStateCache(), refresh.NewTrackedCache(), log)
		return p.Save(saveMessage)
	},
}
