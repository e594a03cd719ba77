package main

import (
	"fmt"
	"io"

	"github.com/BadgerOps/kpz/internal/engine"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	verifyAgainst string
	verifyList    bool
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify ARCHIVE",
		Short: "Check a built archive",
		Long: `Read every entry of a .kpz archive back, checking entry names, directory
ordering, permissions and CRCs. With --against the archive must reproduce the
given directory exactly.`,
		Example: `  package-kpz verify koha-plugin-example-v1.2.3.kpz
  package-kpz verify koha-plugin-example-v1.2.3.kpz --against dist --list`,
		Args: cobra.ExactArgs(1),
		RunE: verifyRun,
	}

	cmd.Flags().StringVar(&verifyAgainst, "against", "", "directory the archive must match")
	cmd.Flags().BoolVar(&verifyList, "list", false, "list every entry")

	return cmd
}

func verifyRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	cmd.SilenceUsage = true

	perm, err := globalCfg.ArchivePermissions()
	if err != nil {
		return err
	}

	opts := engine.VerifyOptions{Permissions: perm}
	if verifyAgainst != "" {
		opts.AgainstDir = globalCfg.Resolve(verifyAgainst)
	}

	archivePath := globalCfg.Resolve(args[0])
	logger.Info("verifying archive", "path", archivePath, "against", opts.AgainstDir)

	report, err := engine.VerifyArchive(archivePath, opts)
	if report != nil {
		printVerifyReport(cmd.OutOrStdout(), archivePath, report, verifyList)
	}
	return err
}

func printVerifyReport(w io.Writer, archivePath string, report *engine.VerifyReport, list bool) {
	if list {
		for _, e := range report.Entries {
			size := "-"
			if !e.IsDir {
				size = engine.FormatSize(e.Size)
			}
			fmt.Fprintf(w, "  %s %10s  %s\n", e.Mode, size, e.Name)
		}
	}

	if report.OK() {
		fmt.Fprintf(w, "%s %s: %d files, %d directories, %s\n",
			color.GreenString("✓"), archivePath, report.Files, report.Dirs, engine.FormatSize(report.Size))
		return
	}

	fmt.Fprintf(w, "%s %s: %d problem(s)\n", color.RedString("✗"), archivePath, len(report.Problems))
	for _, p := range report.Problems {
		fmt.Fprintf(w, "    %s\n", p)
	}
}
