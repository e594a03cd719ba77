package safety

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "a/b/c.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(okPath, root), "path %q is not under root %q", okPath, root)

	_, err = SafeJoinUnder(root, "../escape.txt")
	assert.Error(t, err, "traversal path must fail")
	_, err = SafeJoinUnder(root, "/abs/path.txt")
	assert.Error(t, err, "absolute path must fail")
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()

	_, err := EnsureUnderRoot(root, filepath.Join(root, "child", "file.txt"))
	require.NoError(t, err)

	_, err = EnsureUnderRoot(root, root+"/../escape")
	assert.Error(t, err)

	_, err = EnsureUnderRoot(root, root)
	assert.Error(t, err, "root itself is not a child")
}

func TestCleanArchiveName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"Koha/", "Koha/", false},
		{"Koha/Plugin/Foo.pm", "Koha/Plugin/Foo.pm", false},
		{"Koha/./Plugin/", "Koha/Plugin/", false},
		{"locale/de-DE.json", "locale/de-DE.json", false},
		{"../evil", "", true},
		{"/etc/passwd", "", true},
		{`Koha\Plugin.pm`, "", true},
		{"", "", true},
		{"/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanArchiveName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLimitedBuffer(t *testing.T) {
	calls := 0
	b := &LimitedBuffer{Limit: 4, OnExceed: func() { calls++ }}

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.Exceeded())

	n, err = b.Write([]byte("def"))
	assert.ErrorIs(t, err, ErrOutputTooLarge)
	assert.Equal(t, 1, n)
	assert.True(t, b.Exceeded())
	assert.Equal(t, "abcd", b.String())

	_, err = b.Write([]byte("g"))
	assert.ErrorIs(t, err, ErrOutputTooLarge)
	assert.Equal(t, 1, calls, "OnExceed fires once")
}

func TestLimitedBufferDiscard(t *testing.T) {
	b := &LimitedBuffer{Limit: 2, Discard: true}

	n, err := io.WriteString(b, "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "he", string(b.Bytes()))
	assert.True(t, b.Exceeded())
}

func TestContains(t *testing.T) {
	root := t.TempDir()

	assert.True(t, Contains(root, root))
	assert.True(t, Contains(root, filepath.Join(root, "dist")))
	assert.True(t, Contains(root, filepath.Join(root, "a", "..", "dist")))
	assert.False(t, Contains(filepath.Join(root, "Koha"), filepath.Join(root, "dist")))
	assert.False(t, Contains(filepath.Join(root, "dist"), root))
	assert.False(t, Contains(root, root+"-sibling"))
}
