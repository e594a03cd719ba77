package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/BadgerOps/kpz/internal/engine"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	releaseName     string
	pmFilePath      string
	translationsDir string
)

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&releaseName, "release-filename", "r", "", "release name used as the archive file name prefix")
	cmd.Flags().StringVarP(&pmFilePath, "pm-file-path", "p", "", "path of the staged plugin module receiving version and date")
	cmd.Flags().StringVarP(&translationsDir, "translations-dir", "t", "", "directory of .po catalogs to convert into locale JSON")
	cmd.Flags().BoolVar(&keepStaging, "keep-staging", false, "keep the staging directory after the build")
	cmd.Flags().BoolVar(&checksum, "checksum", false, "write a .sha256 file next to the archive")

	_ = cmd.MarkFlagRequired("release-filename")
	_ = cmd.MarkFlagRequired("pm-file-path")
}

func buildRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	cmd.SilenceUsage = true

	timeout, err := globalCfg.ConverterTimeout()
	if err != nil {
		return err
	}

	st, err := openHistory()
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt)
	defer stop()

	converter := engine.NewPo2JSON(globalCfg.Translations.Converter, timeout, logger)
	packager := engine.NewPackager(globalCfg, st, converter, logger)

	report, err := packager.Package(ctx, engine.BuildParams{
		ReleaseName:     releaseName,
		ManifestPath:    pmFilePath,
		TranslationsDir: translationsDir,
	})
	if err != nil {
		return err
	}

	printBuildReport(cmd.OutOrStdout(), report)
	return nil
}

func printBuildReport(w io.Writer, report *engine.BuildReport) {
	fmt.Fprintf(w, "%s %s\n", color.GreenString("✓"), color.New(color.Bold).Sprint(filepath.Base(report.ArchivePath)))
	fmt.Fprintf(w, "  %-10s %s\n", "Version:", displayVersion(report.Version))
	fmt.Fprintf(w, "  %-10s %d (%d files, %d directories)\n", "Entries:", report.Entries, report.Files, report.Dirs)
	if report.Catalogs > 0 {
		fmt.Fprintf(w, "  %-10s %d\n", "Locales:", report.Catalogs)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "Size:", engine.FormatSize(report.Size))
	fmt.Fprintf(w, "  %-10s %s\n", "SHA256:", report.SHA256)
	if report.ChecksumPath != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "Checksum:", report.ChecksumPath)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "Build:", color.HiBlackString(report.BuildID))
}

func displayVersion(v string) string {
	if v == "" {
		return color.YellowString("(none)")
	}
	return v
}

// contextOrBackground guards commands invoked without Execute.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
