// Package transcode re-encodes images to a target format and quality.
package transcode

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/maneesh/blogmedia/internal/naming"

	// Register the WebP decoder; WebP sources are decoded but never encoded.
	_ "golang.org/x/image/webp"
)

// DefaultQuality is used when a policy sets no quality.
const DefaultQuality = 82

// Policy selects the output of a re-encode.
type Policy struct {
	Format  string // jpeg, png or gif; empty keeps the source format
	Quality int    // JPEG quality 1-100
}

// Result is the outcome of Transcode.
type Result struct {
	Data     []byte
	Format   string // format of Data
	Ext      string
	MimeType string
	// Reencoded reports whether Data holds new bytes rather than the input.
	Reencoded bool
}

// IsImageMIME reports whether mimeType is an image type this package decodes.
func IsImageMIME(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/tiff", "image/bmp":
		return true
	}
	return false
}

// Transcode re-encodes data according to p.
//
// When the target format differs from the source the new bytes are always
// returned. When the format is unchanged and the re-encoded output is not
// smaller, the original bytes are returned untouched.
func Transcode(data []byte, p Policy) (Result, error) {
	_, source, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decode image config: %w", err)
	}
	original := result(data, source, false)

	target := normalizeFormat(p.Format)
	if target == "" {
		target = source
	}
	_, ok := encoderFormat(target)
	if !ok {
		if target != source {
			return Result{}, fmt.Errorf("unsupported output format %q", p.Format)
		}
		return original, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	out, err := Encode(img, target, p.Quality)
	if err != nil {
		return Result{}, err
	}

	if target == source && len(out) >= len(data) {
		return original, nil
	}
	return result(out, target, true), nil
}

// Encode writes img in format with the given JPEG quality.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	f, ok := encoderFormat(normalizeFormat(format))
	if !ok {
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, f, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func result(data []byte, format string, reencoded bool) Result {
	ext := naming.FormatExt(format)
	return Result{
		Data:      data,
		Format:    format,
		Ext:       ext,
		MimeType:  naming.ExtToMIME(ext),
		Reencoded: reencoded,
	}
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

func encoderFormat(f string) (imaging.Format, bool) {
	switch f {
	case "jpeg":
		return imaging.JPEG, true
	case "png":
		return imaging.PNG, true
	case "gif":
		return imaging.GIF, true
	}
	return 0, false
}
