package engine

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// CopyOptions tunes CopyTree.
type CopyOptions struct {
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the copy source. A matching directory is skipped
	// together with everything below it.
	Exclude []string
}

// CopyStats summarizes a completed copy.
type CopyStats struct {
	Files    int
	Dirs     int
	Bytes    int64
	Excluded int
}

// CopyTree mirrors every regular file under src into dst at the same
// relative path. It stops at the first error; files already written stay
// in place.
func CopyTree(src, dst string, opts CopyOptions) (CopyStats, error) {
	var stats CopyStats

	info, err := os.Stat(src)
	if err != nil {
		return stats, newStageError(ErrInvalidInput, "copy source", src, err)
	}
	if !info.IsDir() {
		return stats, newStageError(ErrInvalidInput, "copy source", src, fmt.Errorf("source path is not a directory"))
	}

	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return stats, newStageError(ErrConfiguration, "exclude pattern", pattern, doublestar.ErrBadPattern)
		}
	}

	err = copyDir(src, dst, "", opts, &stats)
	return stats, err
}

func copyDir(src, dst, rel string, opts CopyOptions, stats *CopyStats) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return ioError("creating directory", dst, err)
	}
	stats.Dirs++

	entries, err := os.ReadDir(src)
	if err != nil {
		return ioError("reading directory", src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		entryRel := path.Join(rel, entry.Name())

		if excluded(entryRel, opts.Exclude) {
			stats.Excluded++
			continue
		}

		// Stat follows symlinks, so a dangling link surfaces here.
		info, err := os.Stat(srcPath)
		if err != nil {
			return ioError("inspecting", srcPath, err)
		}

		if info.IsDir() {
			if err := copyDir(srcPath, dstPath, entryRel, opts, stats); err != nil {
				return err
			}
			continue
		}

		n, err := copyFile(srcPath, dstPath, info.Mode().Perm())
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, ioError("opening", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, ioError("creating", dst, err)
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return n, ioError("copying", src, err)
	}
	return n, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
