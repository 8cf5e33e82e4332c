package transcode

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	return img
}

func flatImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, q int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: q}))
	return buf.Bytes()
}

func TestTranscode_UnchangedFormatLargerKeepsOriginal(t *testing.T) {
	original := encodeJPEG(t, noiseImage(64, 64), 5)

	res, err := Transcode(original, Policy{Format: "jpeg", Quality: 100})
	require.NoError(t, err)

	assert.False(t, res.Reencoded)
	assert.Equal(t, original, res.Data)
	assert.Equal(t, "jpeg", res.Format)
	assert.Equal(t, ".jpg", res.Ext)
}

func TestTranscode_UnchangedFormatSmallerIsWritten(t *testing.T) {
	original := encodeJPEG(t, noiseImage(64, 64), 100)

	res, err := Transcode(original, Policy{Format: "jpg", Quality: 10})
	require.NoError(t, err)

	assert.True(t, res.Reencoded)
	assert.Less(t, len(res.Data), len(original))
}

func TestTranscode_FormatChangeAlwaysWritten(t *testing.T) {
	// A flat PNG is tiny; the JPEG version is larger but must still be used.
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, flatImage(16, 16)))

	res, err := Transcode(buf.Bytes(), Policy{Format: "jpeg", Quality: 100})
	require.NoError(t, err)

	assert.True(t, res.Reencoded)
	assert.Equal(t, "jpeg", res.Format)
	assert.Equal(t, "image/jpeg", res.MimeType)
	_, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestTranscode_Errors(t *testing.T) {
	_, err := Transcode([]byte("not an image"), Policy{})
	assert.Error(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, flatImage(4, 4)))
	_, err = Transcode(buf.Bytes(), Policy{Format: "webp"})
	assert.Error(t, err)
}

func TestIsImageMIME(t *testing.T) {
	assert.True(t, IsImageMIME("IMAGE/PNG"))
	assert.False(t, IsImageMIME("application/pdf"))
}
