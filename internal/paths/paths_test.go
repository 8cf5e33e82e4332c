package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToRelative(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"articles/images/a.jpg", "articles/images/a.jpg"},
		{"/uploads/articles/images/a.jpg", "articles/images/a.jpg"},
		{"https://cdn.example.com/uploads/articles//images/./a.jpg", "articles/images/a.jpg"},
		{"uploads/a.jpg", "uploads/a.jpg"},
		{"  articles\\covers\\b.png ", "articles/covers/b.png"},
		{"/uploads/a%20b.jpg", "a b.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeToRelative(tt.input, "/uploads/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeToRelative_RejectsTraversal(t *testing.T) {
	inputs := []string{
		"",
		"../etc/passwd",
		"articles/../../etc/passwd",
		"/uploads/../secret",
		"/uploads/%2e%2e/secret",
		"https://evil.example.com/uploads/a/../../b",
		"/etc/passwd",
		"/uploadsX/a.jpg",
		"/uploads",
		"a\x00b",
		"a%00b",
		"..\\windows\\system32",
		"%zz",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := NormalizeToRelative(in, "/uploads")
			require.Error(t, err)
			assert.Empty(t, got)
			assert.Equal(t, mediaerr.KindBadPath, mediaerr.KindOf(err))
		})
	}
}

func TestResolveAbsolute(t *testing.T) {
	root := t.TempDir()

	abs, err := ResolveAbsolute(root, "articles/images/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "articles", "images", "a.jpg"), abs)

	for _, rel := range []string{"", "../a", "a/../../b", "/abs/path"} {
		_, err := ResolveAbsolute(root, rel)
		assert.Equal(t, mediaerr.KindBadPath, mediaerr.KindOf(err), rel)
	}
}

func TestResolveAbsolute_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := ResolveAbsolute(root, "link/secret.txt")
	assert.Equal(t, mediaerr.KindBadPath, mediaerr.KindOf(err))

	_, err = ResolveAbsolute(root, "link/new/file.txt")
	assert.Equal(t, mediaerr.KindBadPath, mediaerr.KindOf(err))
}

func TestResolver(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root, "temp/")
	require.NoError(t, err)

	rel, abs, err := r.Absolute("/temp/photos/x.png")
	require.NoError(t, err)
	assert.Equal(t, "photos/x.png", rel)
	assert.Equal(t, filepath.Join(r.Root, "photos", "x.png"), abs)
	assert.Equal(t, "/temp/photos/x.png", r.WebPath(rel))
}

func TestPlace(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	dst := filepath.Join(dir, "a.jpg")

	created, err := Place(write(".tmp1", "first"), dst)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = Place(write(".tmp2", "first"), dst)
	require.NoError(t, err)
	assert.False(t, created, "identical content is already in place")

	created, err = Place(write(".tmp3", "second"), dst)
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.False(t, created)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got), "an existing destination is never replaced")
}
