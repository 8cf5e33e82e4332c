package storage

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}))
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("connection reset")))
}

func TestMinioClient_URL(t *testing.T) {
	mc := &MinioClient{publicURL: "https://cdn.example.com/media"}
	assert.Equal(t, "https://cdn.example.com/media/avatars/a.jpg", mc.URL("avatars/a.jpg"))
	assert.Equal(t, "https://cdn.example.com/media/avatars/a.jpg", mc.URL("/avatars/a.jpg"))
}

func TestAssetKey(t *testing.T) {
	assert.Equal(t, "asset:123", assetKey("123"))
}
