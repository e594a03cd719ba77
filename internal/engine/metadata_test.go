package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPackageMetadata(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantName    string
		wantVersion string
	}{
		{"full", `{"name": "koha-plugin-example", "version": "1.2.3"}`, "koha-plugin-example", "1.2.3"},
		{"missing version", `{"name": "x"}`, "x", ""},
		{"numeric version", `{"version": 2}`, "", ""},
		{"null version", `{"version": null}`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "package.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			meta, err := LoadPackageMetadata(path, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, meta.Name)
			assert.Equal(t, tt.wantVersion, meta.Version)
		})
	}
}

func TestLoadPackageMetadataErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPackageMetadata(filepath.Join(dir, "missing.json"), discardLogger())
	assert.ErrorIs(t, err, ErrConfiguration)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadPackageMetadata(bad, discardLogger())
	assert.ErrorIs(t, err, ErrConfiguration)
}
