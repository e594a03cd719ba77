package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// TranscodeOptions configures TranscodeCatalogs.
type TranscodeOptions struct {
	Extension   string
	PluralForms string
	Logger      *slog.Logger
}

// TranscodeCatalogs converts every catalog directly inside srcDir into
// <localeDir>/<locale>.json. An empty srcDir makes it a no-op. It returns the
// number of sidecars written.
func TranscodeCatalogs(ctx context.Context, srcDir, localeDir string, conv CatalogConverter, opts TranscodeOptions) (int, error) {
	if srcDir == "" {
		return 0, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, ioError("reading translations directory", srcDir, err)
	}

	if err := os.Mkdir(localeDir, 0o755); err != nil {
		return 0, ioError("creating locale directory", localeDir, err)
	}

	written := 0
	for _, entry := range entries {
		if err := checkCanceled(ctx); err != nil {
			return written, err
		}

		catalogPath := filepath.Join(srcDir, entry.Name())
		locale := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if locale == "" || !isCatalog(catalogPath, opts.Extension) {
			logger.Debug("skipping non-catalog file", "path", catalogPath)
			continue
		}

		catalog, err := conv.Convert(ctx, catalogPath)
		if err != nil {
			return written, err
		}

		catalog[""] = map[string]any{
			"language":     locale,
			"plural-forms": opts.PluralForms,
		}

		data, err := json.Marshal(catalog)
		if err != nil {
			return written, newStageError(ErrMalformedToolOutput, "encoding catalog", catalogPath, err)
		}

		destPath := filepath.Join(localeDir, locale+".json")
		if err := os.WriteFile(destPath, data, 0o644); err != nil {
			return written, ioError("writing catalog", destPath, err)
		}
		written++
		logger.Info("catalog converted", "locale", locale, "dest", destPath)
	}
	return written, nil
}

func isCatalog(path, ext string) bool {
	if filepath.Ext(path) != ext {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
