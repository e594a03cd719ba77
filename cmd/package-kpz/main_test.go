package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/kpz/internal/config"
	"github.com/BadgerOps/kpz/internal/store"
)

// runCLI executes the root command with args and returns what it printed.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(func() { globalCfg = nil })

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func newPluginDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"package.json":             `{"name": "koha-plugin-example", "version": "2.0.1"}`,
		"Koha/Plugin/Example.pm":   "our $VERSION = '{VERSION}';\nour $DATE = '1900-01-01';\n",
		"Koha/Plugin/Example/a.tt": "hello\n",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func buildArgs(dir string, extra ...string) []string {
	args := []string{
		"--work-dir", dir,
		"--log-level", "error",
		"-r", "koha-plugin-example",
		"-p", "dist/Koha/Plugin/Example.pm",
	}
	return append(args, extra...)
}

func TestBuildCommand(t *testing.T) {
	dir := newPluginDir(t)

	out, _, err := runCLI(t, buildArgs(dir, "--checksum")...)
	require.NoError(t, err)

	archive := filepath.Join(dir, "koha-plugin-example-v2.0.1.kpz")
	assert.FileExists(t, archive)
	assert.FileExists(t, archive+".sha256")
	assert.NoDirExists(t, filepath.Join(dir, "dist"))
	assert.Contains(t, out, "koha-plugin-example-v2.0.1.kpz")
	assert.Contains(t, out, "2.0.1")
}

func TestBuildCommandRequiresFlags(t *testing.T) {
	dir := newPluginDir(t)

	stdout, stderr, err := runCLI(t, "--work-dir", dir, "-r", "koha-plugin-example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pm-file-path")
	assert.Contains(t, stdout+stderr, "Usage:")
}

func TestBuildCommandFailure(t *testing.T) {
	dir := newPluginDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dist"), 0o755))

	stdout, stderr, err := runCLI(t, buildArgs(dir)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating staging directory")
	assert.NotContains(t, stdout+stderr, "Usage:")

	matches, _ := filepath.Glob(filepath.Join(dir, "*.kpz"))
	assert.Empty(t, matches)
}

func TestBuildCommandKeepStaging(t *testing.T) {
	dir := newPluginDir(t)

	_, _, err := runCLI(t, buildArgs(dir, "--keep-staging")...)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "dist", "Koha"))

	out, _, err := runCLI(t, "--work-dir", dir, "--log-level", "error", "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")
	assert.NoDirExists(t, filepath.Join(dir, "dist"))

	out, _, err = runCLI(t, "--work-dir", dir, "--log-level", "error", "clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to clean")
}

func TestBuildCommandWithTranslations(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := newPluginDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "po"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "po", "fr-FR.po"), []byte("msgid \"\"\n"), 0o644))

	script := filepath.Join(t.TempDir(), "fake-po2json")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho '{\"hello\": \"bonjour\"}'\n"), 0o755))

	cfg := config.DefaultConfig()
	cfg.Layout.WorkDir = ""
	cfg.Translations.Converter = config.ConverterConfig{Command: script, Timeout: "10s"}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kpz.yaml"), data, 0o644))

	out, _, err := runCLI(t, buildArgs(dir, "-t", "po")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Locales:")

	out, _, err = runCLI(t, "--work-dir", dir, "--log-level", "error", "verify", "koha-plugin-example-v2.0.1.kpz", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "locale/fr-FR.json")
}

func TestVerifyCommand(t *testing.T) {
	dir := newPluginDir(t)
	_, _, err := runCLI(t, buildArgs(dir, "--keep-staging")...)
	require.NoError(t, err)

	out, _, err := runCLI(t, "--work-dir", dir, "--log-level", "error", "verify", "koha-plugin-example-v2.0.1.kpz", "--against", "dist")
	require.NoError(t, err)
	assert.Contains(t, out, "✓")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dist", "extra.txt"), []byte("x"), 0o644))
	out, _, err = runCLI(t, "--work-dir", dir, "--log-level", "error", "verify", "koha-plugin-example-v2.0.1.kpz", "--against", "dist")
	require.Error(t, err)
	assert.Contains(t, out, "extra.txt")
}

func TestHistoryCommand(t *testing.T) {
	dir := newPluginDir(t)
	db := filepath.Join(t.TempDir(), "history.db")

	_, _, err := runCLI(t, "--work-dir", dir, "--log-level", "error", "history")
	require.Error(t, err, "history needs a database")

	_, _, err = runCLI(t, buildArgs(dir, "--history-db", db)...)
	require.NoError(t, err)

	out, _, err := runCLI(t, "--work-dir", dir, "--log-level", "error", "--history-db", db, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "koha-plugin-example")
	assert.Contains(t, out, "completed")

	out, _, err = runCLI(t, "--work-dir", dir, "--log-level", "error", "--history-db", db, "history", "--release", "other")
	require.NoError(t, err)
	assert.Contains(t, out, "No builds recorded.")
}

func TestHistoryShowsOneBuild(t *testing.T) {
	dir := newPluginDir(t)
	db := filepath.Join(t.TempDir(), "history.db")
	history := func(args ...string) (string, error) {
		out, _, err := runCLI(t, append([]string{"--work-dir", dir, "--log-level", "error", "--history-db", db, "history"}, args...)...)
		return out, err
	}

	_, _, err := runCLI(t, buildArgs(dir, "--history-db", db)...)
	require.NoError(t, err)

	out, err := history()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	buildID := strings.Fields(lines[1])[0]
	require.Len(t, buildID, 36)

	out, err = history(buildID)
	require.NoError(t, err)
	assert.Contains(t, out, "Build "+buildID)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "2.0.1")
	assert.Contains(t, out, "koha-plugin-example-v2.0.1.kpz")
	assert.Regexp(t, `SHA256:\s+[0-9a-f]{64}`, out)

	_, err = history("no-such-build")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = history(buildID, "extra")
	require.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	out, _, err := runCLI(t, "--work-dir", dir, "--log-level", "error", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "kpz.yaml")

	_, _, err = runCLI(t, "--work-dir", dir, "--log-level", "error", "config", "init")
	require.Error(t, err, "init keeps an existing file")

	out, _, err = runCLI(t, "--work-dir", dir, "--log-level", "error", "config", "show")
	require.NoError(t, err)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, dir, shown.Layout.WorkDir)
	assert.Equal(t, "kpz", shown.Archive.Extension)
	assert.True(t, strings.HasPrefix(out, "layout:"))
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "package-kpz dev")
}
