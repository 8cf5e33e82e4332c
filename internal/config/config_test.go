package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
service_port: "7000"
batch_concurrency: 8
compress_format: png
scenes:
  user_avatar:
    max_size_mb: 5
    compress: false
  banner:
    base_dir: banners
    date_partitioned: true
    allowed_ext: [jpg, PNG]
    max_count: 2
    thumbnail:
      width: 100
      height: 50
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blogmedia.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Equal(t, 5, cfg.BatchConcurrency)
	assert.Equal(t, "/temp", cfg.TempMount)
	assert.Equal(t, "/uploads", cfg.FormalMount)
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, int64(64<<20), cfg.GetMaxUploadBytes())
	assert.Contains(t, cfg.GetDSN(), "@tcp(localhost:4000)/blogmedia?")
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("MINIO_BUCKET_NAME", "media")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServicePort, "environment overrides the file")
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, "media", cfg.MinIOBucketName)
	require.Contains(t, cfg.Scenes, "banner")
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("COMPRESS_QUALITY", "0")
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistry_Overrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)

	avatar, err := reg.Template(scene.UserAvatar)
	require.NoError(t, err)
	assert.Equal(t, int64(5<<20), avatar.Policy.MaxSize)
	assert.False(t, avatar.Policy.Compress)

	article, err := reg.Template(scene.ArticleImage)
	require.NoError(t, err)
	assert.Equal(t, "png", article.Policy.Format)

	banner, err := reg.Template("banner")
	require.NoError(t, err)
	assert.Equal(t, "banners", banner.BaseDir)
	assert.True(t, banner.DatePartitioned)
	assert.Equal(t, []string{".jpg", ".png"}, banner.Policy.AllowedExt)
	assert.Equal(t, 2, banner.Policy.MaxCount)
	require.NotNil(t, banner.Thumbnail)
	assert.Equal(t, 100, banner.Thumbnail.Spec.Width)
	assert.Equal(t, scene.Scene(""), banner.Thumbnail.Scene)
}

func TestRegistry_NewSceneNeedsBaseDir(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "scenes:\n  poster:\n    max_count: 1\n"))
	require.NoError(t, err)
	_, err = cfg.Registry()
	assert.Error(t, err)
}
