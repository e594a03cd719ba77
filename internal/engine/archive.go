package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BadgerOps/kpz/internal/config"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// entryModTime is stamped on every archive entry so the archive bytes depend
// only on the staged content.
var entryModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// ArchiveOptions configures WriteArchive.
type ArchiveOptions struct {
	// Compression is one of config.CompressionStore, CompressionDeflate or CompressionZstd.
	Compression string
	// Permissions is applied to every entry regardless of the source mode.
	Permissions os.FileMode
	// SortEntries orders each directory level by name before emitting it.
	SortEntries bool
	// MaxSize rejects archives larger than this many bytes. Zero disables the check.
	MaxSize int64
}

// ArchiveEntry is one file or directory discovered during the walk.
type ArchiveEntry struct {
	Name       string
	SourcePath string
	IsDir      bool
}

// ArchiveStats summarizes a written archive.
type ArchiveStats struct {
	Entries []string
	Files   int
	Dirs    int
	Size    int64
	SHA256  string
}

// zipMethod maps a configured compression name to a zip method.
func zipMethod(compression string) (uint16, error) {
	switch compression {
	case "", config.CompressionStore:
		return zip.Store, nil
	case config.CompressionDeflate:
		return zip.Deflate, nil
	case config.CompressionZstd:
		return zstd.ZipMethodWinZip, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", compression)
	}
}

// WriteArchive walks root depth-first and writes every directory and regular
// file into a zip at dest. Directory entries precede their contents. On a
// failure the partially written archive is left at dest.
func WriteArchive(root, dest string, opts ArchiveOptions) (stats ArchiveStats, err error) {
	method, err := zipMethod(opts.Compression)
	if err != nil {
		return stats, newStageError(ErrConfiguration, "archive compression", opts.Compression, err)
	}
	if opts.Permissions == 0 {
		opts.Permissions = 0o755
	}

	info, err := os.Stat(root)
	if err != nil {
		return stats, ioError("reading staging directory", root, err)
	}
	if !info.IsDir() {
		return stats, newStageError(ErrInvalidInput, "reading staging directory", root, fmt.Errorf("not a directory"))
	}

	f, err := os.Create(dest)
	if err != nil {
		return stats, newStageError(ErrArchiveWrite, "creating archive", dest, err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()

	zw := zip.NewWriter(f)
	if method == zstd.ZipMethodWinZip {
		zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	}

	w := &archiveWalker{zw: zw, method: method, opts: opts, stats: &stats}
	if err := w.walk(root, ""); err != nil {
		return stats, err
	}

	if err := zw.Close(); err != nil {
		return stats, newStageError(ErrArchiveWrite, "finalizing archive", dest, err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return stats, newStageError(ErrArchiveWrite, "closing archive", dest, err)
	}

	hash, size, err := hashFile(dest)
	if err != nil {
		return stats, ioError("hashing archive", dest, err)
	}
	stats.SHA256 = hash
	stats.Size = size

	if opts.MaxSize > 0 && size > opts.MaxSize {
		return stats, newStageError(ErrArchiveWrite, "checking archive size", dest,
			fmt.Errorf("archive is %d bytes, limit is %d", size, opts.MaxSize))
	}
	return stats, nil
}

type archiveWalker struct {
	zw     *zip.Writer
	method uint16
	opts   ArchiveOptions
	stats  *ArchiveStats
}

// walk emits the children of dir; prefix is dir's archive name without a trailing slash.
func (w *archiveWalker) walk(dir, prefix string) error {
	entries, err := listDir(dir, prefix, w.opts.SortEntries)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir {
			if err := w.addDir(entry); err != nil {
				return err
			}
			if err := w.walk(entry.SourcePath, entry.Name); err != nil {
				return err
			}
			continue
		}
		if err := w.addFile(entry); err != nil {
			return err
		}
	}
	return nil
}

func (w *archiveWalker) addDir(entry ArchiveEntry) error {
	header := &zip.FileHeader{
		Name:     entry.Name + "/",
		Method:   zip.Store,
		Modified: entryModTime,
	}
	header.SetMode(os.ModeDir | w.opts.Permissions)

	if _, err := w.zw.CreateHeader(header); err != nil {
		return newStageError(ErrArchiveWrite, "adding directory entry", header.Name, err)
	}
	w.stats.Entries = append(w.stats.Entries, header.Name)
	w.stats.Dirs++
	return nil
}

func (w *archiveWalker) addFile(entry ArchiveEntry) error {
	src, err := os.Open(entry.SourcePath)
	if err != nil {
		return ioError("opening", entry.SourcePath, err)
	}
	defer func() {
		_ = src.Close()
	}()

	header := &zip.FileHeader{
		Name:     entry.Name,
		Method:   w.method,
		Modified: entryModTime,
	}
	header.SetMode(w.opts.Permissions)

	dst, err := w.zw.CreateHeader(header)
	if err != nil {
		return newStageError(ErrArchiveWrite, "adding file entry", entry.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return ioError("archiving", entry.SourcePath, err)
	}
	w.stats.Entries = append(w.stats.Entries, entry.Name)
	w.stats.Files++
	return nil
}

// listDir returns the archive entries directly inside dir.
func listDir(dir, prefix string, sorted bool) ([]ArchiveEntry, error) {
	d, err := os.Open(dir)
	if err != nil {
		return nil, ioError("reading directory", dir, err)
	}
	// Readdirnames keeps host listing order; sorting is opt-in.
	names, err := d.Readdirnames(-1)
	_ = d.Close()
	if err != nil {
		return nil, ioError("reading directory", dir, err)
	}
	if sorted {
		sort.Strings(names)
	}

	entries := make([]ArchiveEntry, 0, len(names))
	for _, name := range names {
		srcPath := filepath.Join(dir, name)
		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, ioError("inspecting", srcPath, err)
		}
		archiveName := name
		if prefix != "" {
			archiveName = prefix + "/" + name
		}
		entries = append(entries, ArchiveEntry{
			Name:       archiveName,
			SourcePath: srcPath,
			IsDir:      info.IsDir(),
		})
	}
	return entries, nil
}

// hashFile computes the SHA256 of a file, returning hex string and size.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
