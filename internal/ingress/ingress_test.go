package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/models"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/rollback"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tiny scene.Scene = "tiny"

type part struct {
	field, name, contentType string
	data                     []byte
}

type harness struct {
	router *mux.Router
	temp   *paths.Resolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	templates := scene.Defaults()
	templates[tiny] = scene.Template{BaseDir: "tiny", Policy: scene.Policy{MaxSize: 100, MaxCount: 3}}
	reg, err := scene.NewRegistry(templates)
	require.NoError(t, err)
	temp, err := paths.NewResolver(t.TempDir(), "/temp")
	require.NoError(t, err)

	p := New(Config{
		Registry: reg,
		Temp:     temp,
		Now:      func() time.Time { return time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC) },
	})
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Files(r.Context()))
	})
	router := mux.NewRouter()
	router.Handle("/uploads/{scene}", p.Chain(final)).Methods(http.MethodPost)
	return &harness{router: router, temp: temp}
}

func (h *harness) post(t *testing.T, target string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("title", "ignored"))
	for _, p := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.name))
		if p.contentType != "" {
			hdr.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) fileCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, filepath.WalkDir(h.temp.Root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	}))
	return n
}

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func decodeFiles(t *testing.T, rec *httptest.ResponseRecorder) []models.TempFile {
	t.Helper()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var files []models.TempFile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	return files
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestUpload_CompressesToSceneFormat(t *testing.T) {
	h := newHarness(t)
	rec := h.post(t, "/uploads/article_image", part{"file", "photo.png", "image/png", pngData(t)})

	files := decodeFiles(t, rec)
	require.Len(t, files, 1)
	f := files[0]
	assert.Equal(t, "file", f.Field)
	assert.Equal(t, "photo.png", f.OriginalName)
	assert.True(t, f.Compressed)
	assert.Equal(t, "image/jpeg", f.MimeType)
	assert.True(t, strings.HasPrefix(f.Path, "/temp/articles/images/2024/06/"), f.Path)
	assert.True(t, strings.HasSuffix(f.RelativePath, ".jpg"))
	assert.FileExists(t, filepath.Join(h.temp.Root, filepath.FromSlash(f.RelativePath)))
}

func TestUpload_CompressOff(t *testing.T) {
	h := newHarness(t)
	data := pngData(t)
	rec := h.post(t, "/uploads/article_image?compress=off", part{"file", "photo.png", "image/png", data})

	files := decodeFiles(t, rec)
	require.Len(t, files, 1)
	assert.False(t, files[0].Compressed)
	assert.Equal(t, "image/png", files[0].MimeType)

	stored, err := os.ReadFile(filepath.Join(h.temp.Root, filepath.FromSlash(files[0].RelativePath)))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		target string
		parts  []part
		code   string
		status int
	}{
		{
			name:   "unknown scene",
			target: "/uploads/nope",
			parts:  []part{{"file", "a.png", "image/png", []byte("x")}},
			code:   "UNKNOWN_SCENE",
			status: http.StatusBadRequest,
		},
		{
			name:   "extension",
			target: "/uploads/article_image",
			parts:  []part{{"file", "notes.txt", "text/plain", []byte("hello")}},
			code:   "UNSUPPORTED_EXTENSION",
			status: http.StatusBadRequest,
		},
		{
			name:   "declared type",
			target: "/uploads/article_image",
			parts:  []part{{"file", "a.png", "application/pdf", []byte("hello")}},
			code:   "UNSUPPORTED_TYPE",
			status: http.StatusBadRequest,
		},
		{
			name:   "sniffed content",
			target: "/uploads/article_image",
			parts:  []part{{"file", "a.png", "image/png", []byte("this is plain text, not a png")}},
			code:   "CONTENT_MISMATCH",
			status: http.StatusBadRequest,
		},
		{
			name:   "empty",
			target: "/uploads/tiny",
			parts:  []part{{"file", "a.txt", "", nil}},
			code:   "EMPTY_FILE",
			status: http.StatusBadRequest,
		},
		{
			name:   "too large",
			target: "/uploads/tiny",
			parts:  []part{{"file", "a.txt", "", bytes.Repeat([]byte("a"), 101)}},
			code:   "FILE_TOO_LARGE",
			status: http.StatusBadRequest,
		},
		{
			name:   "no files",
			target: "/uploads/tiny",
			code:   "NO_FILES",
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.post(t, tt.target, tt.parts...)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Equal(t, 0, h.fileCount(t))
		})
	}
}

func TestUpload_TooManyFilesRemovesWrittenFiles(t *testing.T) {
	h := newHarness(t)
	var parts []part
	for i := 0; i < 4; i++ {
		parts = append(parts, part{"files", fmt.Sprintf("f%d.txt", i), "text/plain", []byte("content")})
	}
	rec := h.post(t, "/uploads/tiny", parts...)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "TOO_MANY_FILES", body.Code)
	assert.Equal(t, "files", body.Field)
	assert.Equal(t, 0, h.fileCount(t))
}

func TestUpload_LaterRejectionRemovesEarlierFiles(t *testing.T) {
	h := newHarness(t)
	rec := h.post(t, "/uploads/tiny",
		part{"a", "ok.txt", "text/plain", []byte("fine")},
		part{"b", "big.txt", "text/plain", bytes.Repeat([]byte("b"), 500)},
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "FILE_TOO_LARGE", body.Code)
	assert.Equal(t, "b", body.Field)
	assert.Equal(t, 0, h.fileCount(t))
}

func TestUpload_NotMultipart(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/uploads/tiny", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOT_MULTIPART", decodeError(t, rec).Code)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decodeError(t, rec).Code)

	be := &rollback.BatchError{
		Op:        "promote",
		Total:     3,
		Succeeded: 2,
		Failures:  []rollback.ItemFailure{{Index: 2, Name: "c.png", Err: mediaerr.NotFound("promote", "c.png", fs.ErrNotExist)}},
	}
	rec = httptest.NewRecorder()
	WriteError(rec, be)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "BATCH_ABORTED", body.Code)
	assert.EqualValues(t, 2, body.Data["succeededCount"])

	rec = httptest.NewRecorder()
	WriteError(rec, mediaerr.BadPath("resolve", "../x", "escapes root"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_PATH", decodeError(t, rec).Code)
}
