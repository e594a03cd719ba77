package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/kpz/internal/config"
	"github.com/BadgerOps/kpz/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath     string
	workDir     string
	historyDB   string
	logLevel    string
	logFormat   string
	keepStaging bool
	checksum    bool
	globalCfg   *config.Config
	logger      *slog.Logger
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package-kpz",
		Short: "Package a Koha plugin for distribution",
		Long: `package-kpz stages a plugin source tree into a clean build directory,
stamps the version and build date into the plugin module, optionally converts
gettext catalogs into JSON locale files, and writes a reproducible .kpz archive.`,
		Example: `  package-kpz -r koha-plugin-example -p dist/Koha/Plugin/Com/Example.pm
  package-kpz -r koha-plugin-example -p dist/Koha/Plugin/Com/Example.pm -t translations
  package-kpz verify koha-plugin-example-v1.2.3.kpz
  package-kpz history --release koha-plugin-example`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}
			return loadConfig(cmd)
		},
		RunE: buildRun,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "directory holding the plugin sources (default: current directory)")
	cmd.PersistentFlags().StringVar(&historyDB, "history-db", "", "SQLite database recording build history")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	addBuildFlags(cmd)

	cmd.AddCommand(
		newVerifyCmd(),
		newHistoryCmd(),
		newCleanCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return cmd
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig(cmd *cobra.Command) error {
	path := cfgPath
	if path == "" {
		found, err := config.FindConfigFile(workDir)
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
		path = found
	}

	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalCfg = cfg
	} else {
		globalCfg = config.DefaultConfig()
	}

	// Override with command-line flags if provided
	if workDir != "" {
		globalCfg.Layout.WorkDir = workDir
	}
	if historyDB != "" {
		globalCfg.History.DBPath = historyDB
	}
	if f := cmd.Flags().Lookup("keep-staging"); f != nil && f.Changed {
		globalCfg.Stage.KeepStaging = keepStaging
	}
	if f := cmd.Flags().Lookup("checksum"); f != nil && f.Changed {
		globalCfg.Archive.Checksum = checksum
	}

	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Debug("config loaded", "path", path, "work_dir", globalCfg.Layout.WorkDir)
	return nil
}

// openHistory opens the build history store, or returns nil when none is configured
func openHistory() (*store.Store, error) {
	if globalCfg == nil || globalCfg.History.DBPath == "" {
		return nil, nil
	}
	st, err := store.New(globalCfg.Resolve(globalCfg.History.DBPath), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open build history: %w", err)
	}
	return st, nil
}

// closeStore closes a store opened by openHistory
func closeStore(st *store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
}

// setupLogging initializes the slog logger based on flags
func setupLogging(cmd *cobra.Command) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
}
