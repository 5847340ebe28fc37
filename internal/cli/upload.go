package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/re-cinq/cccopy/internal/refresh"
	"github.com/re-cinq/cccopy/internal/settings"
	"github.com/re-cinq/cccopy/internal/sync"
)

var uploadMessage string

func init() {
	uploadCmd.Flags().StringVarP(&uploadMessage, "message", "m", "", "Commit message (required)")
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Push Work's modified paths into Production under your authorship",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTemplate(); err != nil {
			return err
		}
		if uploadMessage == "" {
			return fmt.Errorf("--message is required")
		}

		proj, err := settings.LoadTemplate(templatePath)
		if err != nil {
			return err
		}

		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("resolving invoking user: %w", err)
		}

		p := sync.New(proj, refresh.NewStateCache(), refresh.NewTrackedCache(), log)
		out, err := p.Upload(u.Username, uploadMessage)
		if err != nil {
			return err
		}
		printOutcomeWarnings(out.Warnings)
		fmt.Fprintf(os.Stdout, "uploaded %d path(s)\n", len(out.Uploaded))
		return nil
	},
}
