// Package naming generates storage file names and content fingerprints.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewFilename returns a collision-resistant file name carrying ext.
func NewFilename(ext string) string {
	return uuid.New().String() + NormalizeExt(ext)
}

// NormalizeExt lower-cases ext and ensures a leading dot. "jpeg" maps to ".jpg".
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}

// Ext returns the normalized extension of name.
func Ext(name string) string {
	return NormalizeExt(path.Ext(strings.ReplaceAll(name, `\`, "/")))
}

// Stem returns the base name of p without its extension.
func Stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// FormatExt maps an image format name to its file extension.
func FormatExt(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return ".jpg"
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	case "webp":
		return ".webp"
	case "tiff":
		return ".tiff"
	case "bmp":
		return ".bmp"
	}
	return ""
}

// ExtToMIME maps a file extension to a MIME type.
func ExtToMIME(ext string) string {
	switch NormalizeExt(ext) {
	case ".jpg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}

// ComputeHash computes the SHA256 hash of data.
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// HashReader computes the SHA256 hash of everything read from r.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
