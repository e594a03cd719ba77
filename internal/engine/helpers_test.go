package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/kpz/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFiles creates each relative path under root with the given content.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// fakeConverter returns a fixed catalog and records the paths it saw.
type fakeConverter struct {
	catalog map[string]any
	err     error
	failOn  string
	calls   []string
}

func (f *fakeConverter) Convert(_ context.Context, catalogPath string) (map[string]any, error) {
	f.calls = append(f.calls, filepath.Base(catalogPath))
	if f.err != nil && (f.failOn == "" || f.failOn == filepath.Base(catalogPath)) {
		return nil, f.err
	}
	out := make(map[string]any, len(f.catalog))
	for k, v := range f.catalog {
		out[k] = v
	}
	return out, nil
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// pluginFixture lays out a work directory shaped like a plugin repository.
type pluginFixture struct {
	workDir string
	cfg     *config.Config
	params  BuildParams
}

const fixtureManifest = "package Koha::Plugin::Example;\n" +
	"our $VERSION = '{VERSION}';\n" +
	"our $metadata = { version => $VERSION, date_updated => '1900-01-01' };\n"

func newPluginFixture(t *testing.T) *pluginFixture {
	t.Helper()
	workDir := t.TempDir()

	writeFiles(t, workDir, map[string]string{
		"package.json":                     `{"name": "koha-plugin-example", "version": "1.2.3"}`,
		"Koha/Plugin/Example.pm":           fixtureManifest,
		"Koha/Plugin/Example/template.tt":  "[% INCLUDE header %]\n",
		"Koha/Plugin/Example/static/a.css": "body {}\n",
		"translations/fr-FR.po":            "msgid \"hello\"\nmsgstr \"bonjour\"\n",
		"translations/de-DE.po":            "msgid \"hello\"\nmsgstr \"hallo\"\n",
		"translations/README.md":           "not a catalog\n",
	})

	cfg := config.DefaultConfig()
	cfg.Layout.WorkDir = workDir

	return &pluginFixture{
		workDir: workDir,
		cfg:     cfg,
		params: BuildParams{
			ReleaseName:     "koha-plugin-example",
			ManifestPath:    "dist/Koha/Plugin/Example.pm",
			TranslationsDir: "translations",
		},
	}
}

// kpzFiles lists archive files left in dir.
func kpzFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.kpz"))
	require.NoError(t, err)
	sort.Strings(matches)
	return matches
}
