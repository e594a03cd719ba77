package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BadgerOps/kpz/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitForce bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage package-kpz configuration. Settings are read from kpz.yaml in the
work directory unless --config is given.`,
		Example: `  package-kpz config show
  package-kpz config init`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format, with any
command-line overrides applied.`,
		Example: `  package-kpz config show
  package-kpz config show --config ci/kpz.yaml`,
		Args: cobra.NoArgs,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a config file with the default settings",
		Long: `Write the default configuration to PATH, or kpz.yaml in the work
directory. An existing file is kept unless --force is given.`,
		Example: `  package-kpz config init
  package-kpz config init ci/kpz.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: configInitRun,
	}

	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	dest := filepath.Join(workDir, "kpz.yaml")
	if len(args) == 1 {
		dest = args[0]
	}

	if _, err := os.Stat(dest); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
	}

	defaults := config.DefaultConfig()
	// The work directory is implied by the file location.
	defaults.Layout.WorkDir = ""

	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.Info("config written", "path", dest)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", dest)
	return nil
}
