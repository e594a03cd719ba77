package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BadgerOps/kpz/internal/safety"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// VerifyOptions configures VerifyArchive.
type VerifyOptions struct {
	// Permissions, when non-zero, is the permission every entry must carry.
	Permissions os.FileMode
	// AgainstDir, when set, is a tree the archive must reproduce exactly.
	AgainstDir string
}

// VerifiedEntry describes one archive entry that was read back.
type VerifiedEntry struct {
	Name   string
	IsDir  bool
	Size   int64
	SHA256 string
	Mode   os.FileMode
}

// VerifyReport summarizes an archive check.
type VerifyReport struct {
	Entries  []VerifiedEntry
	Files    int
	Dirs     int
	Size     int64
	Problems []string
}

// OK reports whether the archive passed every check.
func (r *VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *VerifyReport) addProblem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// VerifyArchive reads every entry of the zip at archivePath, checking entry
// names, permissions, directory ordering and CRCs, and optionally compares
// the content with opts.AgainstDir. Problems are collected in the report; a
// non-nil report with problems is returned together with an ErrArchiveWrite.
func VerifyArchive(archivePath string, opts VerifyOptions) (*VerifyReport, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, ioError("opening archive", archivePath, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	rc.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	report := &VerifyReport{}
	seenDirs := make(map[string]bool)
	seen := make(map[string]VerifiedEntry)

	for _, f := range rc.File {
		clean, err := safety.CleanArchiveName(f.Name)
		if err != nil {
			report.addProblem("%s: unsafe entry name: %v", f.Name, err)
			continue
		}
		if clean != f.Name {
			report.addProblem("%s: entry name is not normalized (want %s)", f.Name, clean)
		}
		if _, dup := seen[f.Name]; dup {
			report.addProblem("%s: duplicate entry", f.Name)
		}

		parent := path.Dir(strings.TrimSuffix(f.Name, "/"))
		if parent != "." && !seenDirs[parent] {
			report.addProblem("%s: appears before its directory entry %s/", f.Name, parent)
		}

		mode := f.Mode()
		if opts.Permissions != 0 && mode.Perm() != opts.Permissions {
			report.addProblem("%s: permissions %04o, want %04o", f.Name, mode.Perm(), opts.Permissions)
		}

		entry := VerifiedEntry{Name: f.Name, Mode: mode}
		if strings.HasSuffix(f.Name, "/") {
			if !mode.IsDir() {
				report.addProblem("%s: directory entry without directory mode", f.Name)
			}
			entry.IsDir = true
			seenDirs[strings.TrimSuffix(f.Name, "/")] = true
			report.Dirs++
		} else {
			sum, n, err := hashZipFile(f)
			if err != nil {
				report.addProblem("%s: %v", f.Name, err)
				continue
			}
			entry.SHA256 = sum
			entry.Size = n
			report.Files++
			report.Size += n
		}
		seen[f.Name] = entry
		report.Entries = append(report.Entries, entry)
	}

	if opts.AgainstDir != "" {
		if err := compareTree(opts.AgainstDir, seen, report); err != nil {
			return report, err
		}
	}

	if !report.OK() {
		return report, newStageError(ErrArchiveWrite, "verifying archive", archivePath,
			fmt.Errorf("%d problem(s): %s", len(report.Problems), strings.Join(report.Problems, "; ")))
	}
	return report, nil
}

func hashZipFile(f *zip.File) (string, int64, error) {
	r, err := f.Open()
	if err != nil {
		return "", 0, fmt.Errorf("opening entry: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("reading entry: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// compareTree checks that root holds exactly the archived entries.
func compareTree(root string, archived map[string]VerifiedEntry, report *VerifyReport) error {
	onDisk := make(map[string]bool)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			name += "/"
		}
		onDisk[name] = true

		entry, ok := archived[name]
		if !ok {
			report.addProblem("%s: present in %s but missing from archive", name, root)
			return nil
		}
		if entry.IsDir {
			return nil
		}

		sum, _, err := hashFile(p)
		if err != nil {
			return err
		}
		if sum != entry.SHA256 {
			report.addProblem("%s: content differs (archive %s, disk %s)", name, entry.SHA256, sum)
		}
		return nil
	})
	if err != nil {
		return ioError("walking", root, err)
	}

	var extra []string
	for name := range archived {
		if !onDisk[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		report.addProblem("%s: in archive but not in %s", name, root)
	}
	return nil
}
