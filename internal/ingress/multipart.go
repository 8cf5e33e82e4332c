package ingress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/naming"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/transcode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const sniffLen = 3072

// ParseMultipart streams file parts into the temp store. Each part is filtered
// before any of its bytes are written. Parts the compression stage will
// re-encode are buffered in memory instead.
func (p *Pipeline) ParseMultipart(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dest, ok := DestinationFrom(r.Context())
		if !ok {
			WriteError(w, mediaerr.Internal("ingress", "", errors.New("destination not bound")))
			return
		}
		st := &state{dest: dest}
		if p.maxRequest > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, p.maxRequest)
		}
		if err := p.parse(r.Context(), r, st); err != nil {
			p.cleanup(st)
			WriteError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), stateKey, st)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *Pipeline) parse(ctx context.Context, r *http.Request, st *state) error {
	const op = "ingress"
	ctx, span := tracer.Start(ctx, "parse_multipart",
		trace.WithAttributes(attribute.String("scene", string(st.dest.Scene))),
	)
	defer span.End()

	mr, err := r.MultipartReader()
	if err != nil {
		return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Code: "NOT_MULTIPART",
			Message: "request must be multipart/form-data", Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return mediaerr.Internal(op, "", err)
		}
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			span.RecordError(err)
			return readError(op, "", err)
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		if max := st.dest.Policy.MaxCount; max > 0 && len(st.uploads) >= max {
			part.Close()
			return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Code: "TOO_MANY_FILES", Field: part.FormName(),
				Message: fmt.Sprintf("at most %d files may be uploaded to %s", max, st.dest.Scene),
				Data:    map[string]any{"maxCount": max}}
		}
		up, err := p.receive(st, part)
		part.Close()
		if up != nil {
			st.uploads = append(st.uploads, up)
		}
		if err != nil {
			span.RecordError(err)
			return err
		}
	}

	if len(st.uploads) == 0 {
		return mediaerr.BadRequest(op, "NO_FILES", "no files in request")
	}
	span.SetAttributes(attribute.Int("file_count", len(st.uploads)))
	return nil
}

// receive filters one file part and either buffers or writes it.
func (p *Pipeline) receive(st *state, part *multipart.Part) (*upload, error) {
	const op = "ingress"
	pol := st.dest.Policy
	field := part.FormName()
	name := path.Base(strings.ReplaceAll(part.FileName(), `\`, "/"))
	ext := naming.Ext(name)

	if len(pol.AllowedExt) > 0 && !contains(pol.AllowedExt, ext) {
		return nil, rejected(field, "UNSUPPORTED_EXTENSION", fmt.Sprintf("%s: extension %q is not allowed", name, ext))
	}
	declared := mediaType(part.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" && len(pol.AllowedMIME) > 0 && !contains(pol.AllowedMIME, declared) {
		return nil, rejected(field, "UNSUPPORTED_TYPE", fmt.Sprintf("%s: content type %q is not allowed", name, declared))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(part, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, readError(op, field, err)
	}
	head = head[:n]
	if n == 0 {
		return nil, rejected(field, "EMPTY_FILE", fmt.Sprintf("%s is empty", name))
	}
	sniffed := mimetype.Detect(head)
	if len(pol.AllowedMIME) > 0 && !sniffedAllowed(sniffed, pol.AllowedMIME) {
		return nil, rejected(field, "CONTENT_MISMATCH", fmt.Sprintf("%s: detected content %s is not allowed", name, sniffed.String()))
	}

	up := &upload{}
	up.file.Field = field
	up.file.OriginalName = name
	up.file.MimeType = mediaType(sniffed.String())

	body := io.MultiReader(bytes.NewReader(head), part)
	if pol.MaxSize > 0 {
		body = io.LimitReader(body, pol.MaxSize+1)
	}

	if st.dest.Compress && transcode.IsImageMIME(up.file.MimeType) {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, readError(op, field, err)
		}
		if pol.MaxSize > 0 && int64(len(data)) > pol.MaxSize {
			return nil, tooLarge(field, name, pol.MaxSize)
		}
		up.data = data
		up.file.SizeBytes = int64(len(data))
		return up, nil
	}

	if ext == "" {
		ext = sniffed.Extension()
	}
	if err := p.write(st, up, ext, body, pol.MaxSize); err != nil {
		return up, err
	}
	return up, nil
}

// write stores r under a generated name in the destination directory and
// records the result on up. Content longer than max never becomes visible.
func (p *Pipeline) write(st *state, up *upload, ext string, r io.Reader, max int64) error {
	const op = "ingress"
	rel := path.Join(st.dest.TempDir, naming.NewFilename(ext))
	abs, err := paths.ResolveAbsolute(p.temp.Root, rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mediaerr.Internal(op, rel, err)
	}
	tmp, err := os.CreateTemp(dir, ".ingress-*")
	if err != nil {
		return mediaerr.Internal(op, rel, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return readError(op, up.file.Field, err)
	}
	if max > 0 && n > max {
		tmp.Close()
		return tooLarge(up.file.Field, up.file.OriginalName, max)
	}
	if err := tmp.Close(); err != nil {
		return mediaerr.Internal(op, rel, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return mediaerr.Internal(op, rel, err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return mediaerr.Internal(op, rel, err)
	}

	up.abs = abs
	up.file.RelativePath = rel
	up.file.Path = p.temp.WebPath(rel)
	up.file.SizeBytes = n
	return nil
}

func readError(op, field string, err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Code: "REQUEST_TOO_LARGE", Field: field,
			Message: fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit), Err: err}
	}
	return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Code: "MALFORMED_MULTIPART", Field: field, Err: err}
}

func rejected(field, code, message string) error {
	return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: "ingress", Code: code, Field: field, Message: message}
}

func tooLarge(field, name string, max int64) error {
	return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: "ingress", Code: "FILE_TOO_LARGE", Field: field,
		Message: fmt.Sprintf("%s exceeds the %d byte limit", name, max),
		Data:    map[string]any{"maxSize": max}}
}

func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}

func sniffedAllowed(m *mimetype.MIME, allowed []string) bool {
	for _, a := range allowed {
		if m.Is(a) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
