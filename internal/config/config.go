package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Layout       LayoutConfig       `yaml:"layout"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Translations TranslationsConfig `yaml:"translations"`
	Stage        StageConfig        `yaml:"stage"`
	History      HistoryConfig      `yaml:"history"`
}

// LayoutConfig names every path the packager reads from or writes to.
// Relative paths are resolved against WorkDir; LocaleDir is relative to the staging tree.
type LayoutConfig struct {
	WorkDir     string `yaml:"work_dir"`
	SourceDir   string `yaml:"source_dir"`
	StagingDir  string `yaml:"staging_dir"`
	LocaleDir   string `yaml:"locale_dir"`
	PackageFile string `yaml:"package_file"`
	OutputDir   string `yaml:"output_dir"`
}

// ArchiveConfig holds archive settings
type ArchiveConfig struct {
	Extension   string `yaml:"extension"`
	Compression string `yaml:"compression"`
	Permissions string `yaml:"permissions"`
	SortEntries bool   `yaml:"sort_entries"`
	Checksum    bool   `yaml:"checksum"`
	Verify      bool   `yaml:"verify"`
	MaxSize     string `yaml:"max_size"`
}

// TranslationsConfig holds catalog transcoding settings
type TranslationsConfig struct {
	Extension   string          `yaml:"extension"`
	PluralForms string          `yaml:"plural_forms"`
	Converter   ConverterConfig `yaml:"converter"`
}

// ConverterConfig describes the external catalog converter invocation.
// The command line is: Command Args... <catalog> Flags...
type ConverterConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Flags   []string `yaml:"flags"`
	Timeout string   `yaml:"timeout"`
}

// StageConfig holds staging settings
type StageConfig struct {
	Exclude     []string `yaml:"exclude"`
	KeepStaging bool     `yaml:"keep_staging"`
}

// HistoryConfig holds build history settings. An empty DBPath disables history.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// Supported archive compression methods.
const (
	CompressionStore   = "store"
	CompressionDeflate = "deflate"
	CompressionZstd    = "zstd"
)

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Layout: LayoutConfig{
			WorkDir:     ".",
			SourceDir:   "Koha",
			StagingDir:  "dist",
			LocaleDir:   "locale",
			PackageFile: "package.json",
			OutputDir:   ".",
		},
		Archive: ArchiveConfig{
			Extension:   "kpz",
			Compression: CompressionStore,
			Permissions: "0755",
			SortEntries: true,
			Checksum:    false,
			Verify:      true,
			MaxSize:     "",
		},
		Translations: TranslationsConfig{
			Extension:   ".po",
			PluralForms: "nplurals=2; plural=n>1",
			Converter: ConverterConfig{
				Command: "npx",
				Args:    []string{"po2json"},
				Flags:   []string{"-f", "mf", "--pretty", "--fuzzy"},
				Timeout: "2m",
			},
		},
		Stage: StageConfig{
			Exclude:     []string{},
			KeepStaging: false,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches dir, then the user config directory, for a config file
func FindConfigFile(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	searchPaths := []string{
		filepath.Join(dir, "kpz.yaml"),
		filepath.Join(dir, ".kpz.yaml"),
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "kpz", "kpz.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks that the configuration can drive a build.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"layout.source_dir", c.Layout.SourceDir},
		{"layout.staging_dir", c.Layout.StagingDir},
		{"layout.locale_dir", c.Layout.LocaleDir},
		{"layout.package_file", c.Layout.PackageFile},
		{"archive.extension", c.Archive.Extension},
		{"translations.extension", c.Translations.Extension},
		{"translations.converter.command", c.Translations.Converter.Command},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s must not be empty", r.name)
		}
	}

	if filepath.IsAbs(c.Layout.LocaleDir) {
		return fmt.Errorf("layout.locale_dir must be relative to the staging directory: %q", c.Layout.LocaleDir)
	}
	if strings.ContainsAny(c.Archive.Extension, `/\`) {
		return fmt.Errorf("archive.extension must not contain path separators: %q", c.Archive.Extension)
	}

	switch c.Archive.Compression {
	case CompressionStore, CompressionDeflate, CompressionZstd:
	default:
		return fmt.Errorf("unsupported archive.compression %q (want store, deflate or zstd)", c.Archive.Compression)
	}

	if _, err := c.ArchivePermissions(); err != nil {
		return err
	}
	if _, err := c.ConverterTimeout(); err != nil {
		return err
	}
	return nil
}

// Resolve returns p resolved against the configured work directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	workDir := c.Layout.WorkDir
	if workDir == "" {
		workDir = "."
	}
	return filepath.Join(workDir, p)
}

// StagingRoot returns the resolved staging directory.
func (c *Config) StagingRoot() string {
	return c.Resolve(c.Layout.StagingDir)
}

// ArchivePermissions parses the octal permission string applied to every archive entry.
func (c *Config) ArchivePermissions() (os.FileMode, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(c.Archive.Permissions), "0o")
	if raw == "" {
		return 0o755, nil
	}
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid archive.permissions %q: %w", c.Archive.Permissions, err)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("archive.permissions out of range: %q", c.Archive.Permissions)
	}
	if v == 0 {
		return 0, fmt.Errorf("archive.permissions must not be 0: %q", c.Archive.Permissions)
	}
	return os.FileMode(v), nil
}

// ConverterTimeout parses the converter timeout. Zero means no timeout.
func (c *Config) ConverterTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Translations.Converter.Timeout)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid translations.converter.timeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative translations.converter.timeout: %s", raw)
	}
	return d, nil
}
