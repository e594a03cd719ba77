package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/kpz/internal/config"
	"github.com/BadgerOps/kpz/internal/safety"
	"github.com/BadgerOps/kpz/internal/store"
	"github.com/google/uuid"
)

// BuildParams are the per-run inputs of a build.
type BuildParams struct {
	ReleaseName     string
	ManifestPath    string
	TranslationsDir string
}

// Validate checks the required parameters.
func (p BuildParams) Validate() error {
	if strings.TrimSpace(p.ReleaseName) == "" {
		return newStageError(ErrConfiguration, "release name", "", errors.New("must not be empty"))
	}
	if strings.ContainsAny(p.ReleaseName, `/\`) {
		return newStageError(ErrConfiguration, "release name", p.ReleaseName, errors.New("must not contain path separators"))
	}
	if strings.TrimSpace(p.ManifestPath) == "" {
		return newStageError(ErrConfiguration, "manifest path", "", errors.New("must not be empty"))
	}
	return nil
}

// BuildReport summarizes a finished build.
type BuildReport struct {
	BuildID      string
	ArchivePath  string
	ChecksumPath string
	Version      string
	Entries      int
	Files        int
	Dirs         int
	Catalogs     int
	Size         int64
	SHA256       string
	Stages       []Stage
	Duration     time.Duration
}

// Packager runs the staging, patching and archiving pipeline.
type Packager struct {
	config    *config.Config
	store     *store.Store
	converter CatalogConverter
	clock     Clock
	logger    *slog.Logger
}

// NewPackager creates a Packager. st may be nil to disable build history.
func NewPackager(cfg *config.Config, st *store.Store, conv CatalogConverter, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{
		config:    cfg,
		store:     st,
		converter: conv,
		clock:     SystemClock{},
		logger:    logger,
	}
}

// SetClock replaces the clock used for the manifest date.
func (p *Packager) SetClock(c Clock) {
	p.clock = c
}

// ArchiveName returns the file name of the archive for release and version.
func (p *Packager) ArchiveName(release, version string) string {
	return fmt.Sprintf("%s-v%s.%s", release, version, p.config.Archive.Extension)
}

// build tracks the mutable state of one Package call.
type build struct {
	id          string
	stage       Stage
	stages      []Stage
	archivePath string
	record      *store.Build
	// pending is the stage being worked towards; a failure is attributed to it.
	pending Stage
}

func (b *build) advance(s Stage) {
	b.stage = s
	b.stages = append(b.stages, s)
}

// Package stages the source tree, converts catalogs, patches the manifest and
// writes the archive. The staging directory is removed on every return unless
// the configuration keeps it. A failed build leaves no archive behind.
func (p *Packager) Package(ctx context.Context, params BuildParams) (report *BuildReport, err error) {
	start := time.Now()
	b := &build{id: uuid.NewString(), pending: StageInit}
	b.advance(StageInit)

	logger := p.logger.With("build_id", b.id, "release", params.ReleaseName)
	logger.Info("starting build", "manifest", params.ManifestPath, "translations", params.TranslationsDir)

	p.startRecord(b, params, start)

	defer func() {
		if err == nil {
			return
		}
		failedAt := b.pending
		if b.archivePath != "" {
			if rmErr := os.Remove(b.archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("failed to remove archive of failed build", "path", b.archivePath, "error", rmErr)
			}
		}
		b.advance(StageFailed)
		err = &PipelineError{Stage: failedAt, Err: err}
		logger.Error("build failed", "stage", failedAt, "error", err)
		p.finishRecord(b, store.StatusFailed, nil, err)
	}()

	if err := params.Validate(); err != nil {
		return nil, err
	}

	perm, err := p.config.ArchivePermissions()
	if err != nil {
		return nil, newStageError(ErrConfiguration, "archive permissions", p.config.Archive.Permissions, err)
	}
	var maxSize int64
	if p.config.Archive.MaxSize != "" {
		maxSize, err = ParseSize(p.config.Archive.MaxSize)
		if err != nil {
			return nil, newStageError(ErrConfiguration, "archive max size", p.config.Archive.MaxSize, err)
		}
	}

	meta, err := LoadPackageMetadata(p.config.Resolve(p.config.Layout.PackageFile), logger)
	if err != nil {
		return nil, err
	}
	if b.record != nil {
		b.record.Version = meta.Version
	}

	source := p.config.Resolve(p.config.Layout.SourceDir)
	staging := p.config.StagingRoot()
	if safety.Contains(source, staging) {
		return nil, newStageError(ErrConfiguration, "staging directory", staging,
			fmt.Errorf("must not be inside the source directory %s", source))
	}
	localeDir, err := safety.SafeJoinUnder(staging, p.config.Layout.LocaleDir)
	if err != nil {
		return nil, newStageError(ErrConfiguration, "locale directory", p.config.Layout.LocaleDir, err)
	}

	// Init -> StagingCreated
	b.pending = StageStagingCreated
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, ioError("creating staging directory", staging, err)
	}
	defer p.cleanup(staging, logger)
	b.advance(StageStagingCreated)
	logger.Info("staging directory created", "path", staging)

	// StagingCreated -> FilesCopied
	b.pending = StageFilesCopied
	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	copyStats, err := CopyTree(source, filepath.Join(staging, filepath.Base(source)), CopyOptions{
		Exclude: p.config.Stage.Exclude,
	})
	if err != nil {
		return nil, err
	}
	b.advance(StageFilesCopied)
	logger.Info("files copied", "source", source, "files", copyStats.Files, "dirs", copyStats.Dirs,
		"bytes", copyStats.Bytes, "excluded", copyStats.Excluded)

	// FilesCopied -> TranslationsConverted
	catalogs := 0
	if params.TranslationsDir != "" {
		b.pending = StageTranslationsConverted
		if err := checkCanceled(ctx); err != nil {
			return nil, err
		}
		catalogs, err = TranscodeCatalogs(ctx,
			p.config.Resolve(params.TranslationsDir),
			localeDir,
			p.converter,
			TranscodeOptions{
				Extension:   p.config.Translations.Extension,
				PluralForms: p.config.Translations.PluralForms,
				Logger:      logger,
			})
		if err != nil {
			return nil, err
		}
		b.advance(StageTranslationsConverted)
		logger.Info("translations converted", "catalogs", catalogs)
	}

	// -> ManifestPatched
	b.pending = StageManifestPatched
	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	manifest := p.config.Resolve(params.ManifestPath)
	if _, err := safety.EnsureUnderRoot(staging, manifest); err != nil {
		return nil, newStageError(ErrInvalidInput, "manifest path", manifest, err)
	}
	patch, err := PatchManifest(manifest, meta, p.clock.Now())
	if err != nil {
		return nil, err
	}
	b.advance(StageManifestPatched)
	logger.Info("manifest patched", "path", manifest, "version", meta.Version,
		"version_replacements", patch.VersionReplacements, "date_replacements", patch.DateReplacements)

	// ManifestPatched -> Archived
	b.pending = StageArchived
	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	outputDir := p.config.Resolve(p.config.Layout.OutputDir)
	archivePath := filepath.Join(outputDir, p.ArchiveName(params.ReleaseName, meta.Version))
	if safety.Contains(staging, archivePath) {
		return nil, newStageError(ErrConfiguration, "archive path", archivePath,
			errors.New("output directory must not be inside the staging directory"))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, ioError("creating output directory", outputDir, err)
	}
	b.archivePath = archivePath
	archiveStats, err := WriteArchive(staging, archivePath, ArchiveOptions{
		Compression: p.config.Archive.Compression,
		Permissions: perm,
		SortEntries: p.config.Archive.SortEntries,
		MaxSize:     maxSize,
	})
	if err != nil {
		return nil, err
	}
	b.advance(StageArchived)
	logger.Info("archive written", "path", archivePath, "entries", len(archiveStats.Entries),
		"size", archiveStats.Size, "sha256", archiveStats.SHA256)

	// Archived -> Verified
	if p.config.Archive.Verify {
		b.pending = StageVerified
		if _, err := VerifyArchive(archivePath, VerifyOptions{Permissions: perm, AgainstDir: staging}); err != nil {
			return nil, err
		}
		b.advance(StageVerified)
		logger.Info("archive verified", "path", archivePath)
	}

	report = &BuildReport{
		BuildID:     b.id,
		ArchivePath: archivePath,
		Version:     meta.Version,
		Entries:     len(archiveStats.Entries),
		Files:       archiveStats.Files,
		Dirs:        archiveStats.Dirs,
		Catalogs:    catalogs,
		Size:        archiveStats.Size,
		SHA256:      archiveStats.SHA256,
	}

	if p.config.Archive.Checksum {
		sumPath := archivePath + ".sha256"
		line := fmt.Sprintf("%s  %s\n", archiveStats.SHA256, filepath.Base(archivePath))
		if err := os.WriteFile(sumPath, []byte(line), 0o644); err != nil {
			return nil, ioError("writing checksum", sumPath, err)
		}
		report.ChecksumPath = sumPath
	}

	// Removal itself happens in the deferred cleanup.
	if !p.config.Stage.KeepStaging {
		b.advance(StageCleanedUp)
	}
	report.Stages = b.stages
	report.Duration = time.Since(start)

	logger.Info("build completed", "archive", archivePath, "duration", report.Duration)
	p.finishRecord(b, store.StatusCompleted, report, nil)
	return report, nil
}

// cleanup removes the staging tree. It runs on every exit path once the
// staging directory exists.
func (p *Packager) cleanup(staging string, logger *slog.Logger) {
	if p.config.Stage.KeepStaging {
		logger.Info("keeping staging directory", "path", staging)
		return
	}
	if err := os.RemoveAll(staging); err != nil {
		logger.Error("failed to remove staging directory", "path", staging, "error", err)
		return
	}
	logger.Debug("staging directory removed", "path", staging)
}

func (p *Packager) startRecord(b *build, params BuildParams, start time.Time) {
	if p.store == nil {
		return
	}
	rec := &store.Build{
		BuildID:   b.id,
		Release:   params.ReleaseName,
		Status:    store.StatusRunning,
		StartTime: start,
	}
	if err := p.store.CreateBuild(rec); err != nil {
		p.logger.Warn("failed to record build start", "build_id", b.id, "error", err)
		return
	}
	b.record = rec
}

func (p *Packager) finishRecord(b *build, status string, report *BuildReport, buildErr error) {
	if p.store == nil || b.record == nil {
		return
	}
	rec := b.record
	rec.Status = status
	rec.EndTime = time.Now()
	if report != nil {
		rec.Version = report.Version
		rec.ArchivePath = report.ArchivePath
		rec.SHA256 = report.SHA256
		rec.Size = report.Size
		rec.EntryCount = report.Entries
		rec.CatalogCount = report.Catalogs
	}
	if buildErr != nil {
		var pe *PipelineError
		if errors.As(buildErr, &pe) {
			rec.FailedStage = string(pe.Stage)
		}
		rec.ErrorMessage = buildErr.Error()
	}
	if err := p.store.UpdateBuild(rec); err != nil {
		p.logger.Warn("failed to record build result", "build_id", b.id, "error", err)
	}
}
