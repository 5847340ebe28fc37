package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/cccopy/internal/classify"
	"github.com/re-cinq/cccopy/internal/gitrepo"
	"github.com/re-cinq/cccopy/internal/pattern"
	"github.com/re-cinq/cccopy/internal/refresh"
	"github.com/re-cinq/cccopy/internal/settings"
)

// classifyTimeout bounds how long "status" waits for background
// classification to settle before printing whatever PENDING rows
// remain. Only the foreground scan is guaranteed to be fast; full
// classification may need several git invocations per path.
const classifyTimeout = 3 * time.Second

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the six-way file state of every tracked path in Work",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTemplate(); err != nil {
			return err
		}
		proj, err := settings.LoadTemplate(templatePath)
		if err != nil {
			return err
		}

		work := gitrepo.New(proj.WorkingDir)
		prod := gitrepo.New(proj.ProductionDir)
		resolver := classify.NewResolver(work, prod)
		matcher := pattern.New(proj.Sources, proj.Excludes)

		sched := refresh.NewScheduler(proj.ProjectID, matcher, resolver, refresh.NewStateCache(), refresh.NewTrackedCache(), log)

		ctx, cancel := context.WithTimeout(context.Background(), classifyTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- sched.Start(ctx) }()

		rows, err := sched.ForegroundScan(proj.WorkingDir, "")
		if err != nil {
			return fmt.Errorf("scanning work directory: %w", err)
		}

		byPath := make(map[string]refresh.Row, len(rows))
		for _, r := range rows {
			byPath[r.Path] = r
		}

	drain:
		for {
			select {
			case r := <-sched.Results():
				byPath[r.Path] = r
			case <-ctx.Done():
				break drain
			}
		}
		sched.Close()
		<-done

		paths := make([]string, 0, len(byPath))
		for p := range byPath {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		fmt.Fprintln(os.Stdout, "Path state")
		fmt.Fprintln(os.Stdout, "──────────────────────────────────────")
		for _, p := range paths {
			fmt.Fprintf(os.Stdout, "  %-10s %s\n", byPath[p].State, p)
		}
		return nil
	},
}
