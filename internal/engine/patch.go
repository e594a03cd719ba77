package engine

import (
	"os"
	"strings"
	"time"
)

// Placeholders substituted in the staged manifest.
const (
	VersionPlaceholder = "{VERSION}"
	DateSentinel       = "1900-01-01"
)

// PatchResult counts the substitutions made by PatchManifest.
type PatchResult struct {
	VersionReplacements int
	DateReplacements    int
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// PatchManifest replaces every version placeholder with meta.Version and
// every date sentinel with now's UTC date, then overwrites the file in place.
func PatchManifest(path string, meta PackageMetadata, now time.Time) (PatchResult, error) {
	var result PatchResult

	info, err := os.Stat(path)
	if err != nil {
		return result, ioError("reading manifest", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return result, ioError("reading manifest", path, err)
	}

	contents := string(data)
	result.VersionReplacements = strings.Count(contents, VersionPlaceholder)
	contents = strings.ReplaceAll(contents, VersionPlaceholder, meta.Version)

	result.DateReplacements = strings.Count(contents, DateSentinel)
	contents = strings.ReplaceAll(contents, DateSentinel, now.UTC().Format(time.DateOnly))

	if err := os.WriteFile(path, []byte(contents), info.Mode().Perm()); err != nil {
		return result, ioError("writing manifest", path, err)
	}
	return result, nil
}
