package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove a leftover staging directory",
		Long: `Remove the staging directory left behind by an interrupted build or by
--keep-staging. A build refuses to start while it exists.`,
		Example: `  package-kpz clean
  package-kpz clean --work-dir ../koha-plugin-example`,
		Args: cobra.NoArgs,
		RunE: cleanRun,
	}

	return cmd
}

func cleanRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	cmd.SilenceUsage = true

	staging := globalCfg.StagingRoot()
	info, err := os.Stat(staging)
	if os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to clean: %s does not exist\n", staging)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect staging directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("staging path %s is not a directory", staging)
	}

	logger.Info("removing staging directory", "path", staging)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", staging)
	return nil
}
