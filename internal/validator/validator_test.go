package validator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Validator, string) {
	t.Helper()
	root, err := paths.NewResolver(t.TempDir(), "/temp")
	require.NoError(t, err)
	return New(root, 3), root.Root
}

func touch(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestValidateExists(t *testing.T) {
	v, root := setup(t)
	touch(t, root, "articles/a.jpg", "data")
	touch(t, root, "articles/empty.jpg", "")

	asset, err := v.ValidateExists(context.Background(), "/temp/articles/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "articles/a.jpg", asset.RelativePath)
	assert.Equal(t, int64(4), asset.SizeBytes)

	tests := []struct {
		input string
		kind  mediaerr.Kind
	}{
		{"/temp/articles/missing.jpg", mediaerr.KindNotFound},
		{"/temp/articles", mediaerr.KindBadRequest},
		{"/temp/articles/empty.jpg", mediaerr.KindBadRequest},
		{"/temp/../etc/passwd", mediaerr.KindBadPath},
		{"/etc/passwd", mediaerr.KindBadPath},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := v.ValidateExists(context.Background(), tt.input)
			assert.Equal(t, tt.kind, mediaerr.KindOf(err))
		})
	}
}

func TestValidateExistsBatch_AggregatesMissing(t *testing.T) {
	v, root := setup(t)
	touch(t, root, "a.jpg", "a")

	var inputs []string
	inputs = append(inputs, "a.jpg")
	for i := 0; i < 7; i++ {
		inputs = append(inputs, fmt.Sprintf("missing-%d.jpg", i))
	}

	_, err := v.ValidateExistsBatch(context.Background(), inputs)
	require.Error(t, err)

	var me *mediaerr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, mediaerr.KindNotFound, me.Kind)
	assert.Equal(t, inputs[1:], me.Data["missingPaths"])
	assert.Contains(t, me.Message, "7 referenced files are missing")
	assert.Contains(t, me.Message, "and 2 more")
	assert.NotContains(t, me.Message, "missing-6.jpg")
}

func TestValidateExistsBatch_CriticalErrorWins(t *testing.T) {
	v, root := setup(t)
	touch(t, root, "a.jpg", "a")

	_, err := v.ValidateExistsBatch(context.Background(), []string{"missing.jpg", "a.jpg", "../escape.jpg"})
	assert.Equal(t, mediaerr.KindBadPath, mediaerr.KindOf(err))
}

func TestValidateExistsBatch_AllPresent(t *testing.T) {
	v, root := setup(t)
	touch(t, root, "a.jpg", "a")
	touch(t, root, "b/c.jpg", "bc")

	assets, err := v.ValidateExistsBatch(context.Background(), []string{"a.jpg", "/temp/b/c.jpg"})
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "a.jpg", assets[0].RelativePath)
	assert.Equal(t, "b/c.jpg", assets[1].RelativePath)
}
