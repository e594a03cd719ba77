package engine

import (
	"encoding/json"
	"log/slog"
	"os"
)

// PackageMetadata is the subset of package.json the packager consumes.
type PackageMetadata struct {
	Name    string
	Version string
}

// LoadPackageMetadata reads a package.json style descriptor. A missing or
// non-string version is tolerated and yields an empty version.
func LoadPackageMetadata(path string, logger *slog.Logger) (PackageMetadata, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PackageMetadata{}, newStageError(ErrConfiguration, "reading package metadata", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return PackageMetadata{}, newStageError(ErrConfiguration, "parsing package metadata", path, err)
	}

	var meta PackageMetadata
	if name, ok := raw["name"].(string); ok {
		meta.Name = name
	}
	switch v := raw["version"].(type) {
	case string:
		meta.Version = v
	case nil:
		logger.Warn("package metadata has no version, substituting empty string", "path", path)
	default:
		logger.Warn("package metadata version is not a string, substituting empty string", "path", path, "version", v)
	}
	return meta, nil
}
