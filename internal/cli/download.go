package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/re-cinq/cccopy/internal/refresh"
	"github.com/re-cinq/cccopy/internal/settings"
	"github.com/re-cinq/cccopy/internal/sync"
)

func init() {
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Pull Production into Work, surfacing any conflicted paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTemplate(); err != nil {
			return err
		}
		proj, err := settings.LoadTemplate(templatePath)
		if err != nil {
			return err
		}

		p := sync.New(proj, refresh.NewStateCache(), refresh.NewTrackedCache(), log)
		out, err := p.Download(stderrReporter{})
		if err != nil {
			return err
		}
		printOutcomeWarnings(out.Warnings)
		if len(out.Conflicts) > 0 {
			fmt.Fprintf(os.Stderr, "%d path(s) conflicted; resolve with your diff tool before uploading:\n", len(out.Conflicts))
			for _, p := range out.Conflicts {
				fmt.Fprintf(os.Stderr, "  %s\n", p)
			}
		}
		return out.Err
	},
}

// stderrReporter is the default ConflictReporter used when no richer UI
// collaborator is wired in: it only records the path, since the
// downloadCmd body already prints the conflict list from Outcome.
type stderrReporter struct{}

func (stderrReporter) ReportConflict(path string) {}
