package main

import (
	"fmt"
	"io"
	"time"

	"github.com/BadgerOps/kpz/internal/engine"
	"github.com/BadgerOps/kpz/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyRelease string
	historyLimit   int
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [BUILD_ID]",
		Short: "List recorded builds or show one of them",
		Long: `List builds recorded in the history database, newest first. With a build ID,
print the full record of that build instead. The database is configured with
history.db_path or --history-db.`,
		Example: `  package-kpz history --history-db builds.db
  package-kpz history --release koha-plugin-example --limit 5
  package-kpz history 0b6c7a52-0d8e-4b8e-9d3f-3f1c2a9e7b10`,
		Args: cobra.MaximumNArgs(1),
		RunE: historyRun,
	}

	cmd.Flags().StringVar(&historyRelease, "release", "", "only show builds of this release")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of builds to show (0 for all)")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	st, err := openHistory()
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no history database configured (set history.db_path or --history-db)")
	}
	defer closeStore(st)

	if len(args) == 1 {
		b, err := st.GetBuild(args[0])
		if err != nil {
			return fmt.Errorf("failed to load build: %w", err)
		}
		printBuild(cmd.OutOrStdout(), b)
		return nil
	}

	builds, err := st.ListBuilds(historyRelease, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list builds: %w", err)
	}

	printHistory(cmd.OutOrStdout(), builds)
	return nil
}

func printHistory(w io.Writer, builds []store.Build) {
	if len(builds) == 0 {
		fmt.Fprintln(w, "No builds recorded.")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-28s %-10s %-10s %10s  %s\n", "Build", "Started", "Release", "Version", "Status", "Size", "Detail")
	for _, b := range builds {
		detail := b.ArchivePath
		if b.Status == store.StatusFailed {
			detail = fmt.Sprintf("%s: %s", b.FailedStage, b.ErrorMessage)
		}

		size := "-"
		if b.Size > 0 {
			size = engine.FormatSize(b.Size)
		}

		fmt.Fprintf(w, "%-36s %-20s %-28s %-10s %s %10s  %s\n", b.BuildID,
			b.StartTime.Local().Format(time.DateTime), b.Release, b.Version, statusLabel(b.Status, 10), size, detail)
	}
}

// statusLabel pads and colors a build status.
func statusLabel(status string, width int) string {
	switch status {
	case store.StatusCompleted:
		return color.GreenString("%-*s", width, status)
	case store.StatusFailed:
		return color.RedString("%-*s", width, status)
	default:
		return color.YellowString("%-*s", width, status)
	}
}

func printBuild(w io.Writer, b *store.Build) {
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %-10s %s\n", label+":", value)
		}
	}

	fmt.Fprintf(w, "Build %s\n", b.BuildID)
	field("Status", statusLabel(b.Status, 0))
	field("Release", b.Release)
	field("Version", displayVersion(b.Version))
	field("Started", b.StartTime.Local().Format(time.DateTime))
	if !b.EndTime.IsZero() {
		field("Ended", b.EndTime.Local().Format(time.DateTime))
		field("Duration", b.EndTime.Sub(b.StartTime).Round(time.Millisecond).String())
	}
	field("Archive", b.ArchivePath)
	if b.Size > 0 {
		field("Size", engine.FormatSize(b.Size))
	}
	if b.Status == store.StatusCompleted {
		field("Entries", fmt.Sprintf("%d", b.EntryCount))
		field("Locales", fmt.Sprintf("%d", b.CatalogCount))
	}
	field("SHA256", b.SHA256)
	field("Stage", b.FailedStage)
	field("Error", b.ErrorMessage)
}
