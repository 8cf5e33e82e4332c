package ingress

import (
	"bytes"
	"context"
	"net/http"

	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/naming"
	"github.com/maneesh/blogmedia/internal/transcode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Compress re-encodes the images ParseMultipart buffered and writes them to the
// temp store. A changed format always keeps the new bytes; an unchanged format
// keeps the original bytes unless the re-encode is smaller.
func (p *Pipeline) Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := stateFrom(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		if err := p.compress(r.Context(), st); err != nil {
			p.cleanup(st)
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Pipeline) compress(ctx context.Context, st *state) error {
	ctx, span := tracer.Start(ctx, "compress",
		trace.WithAttributes(attribute.Bool("enabled", st.dest.Compress)),
	)
	defer span.End()

	pol := st.dest.Policy
	var saved int64
	for _, up := range st.uploads {
		if up.data == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return mediaerr.Internal("compress", up.file.OriginalName, err)
		}

		data, ext := up.data, naming.Ext(up.file.OriginalName)
		res, err := transcode.Transcode(up.data, transcode.Policy{Format: pol.Format, Quality: pol.Quality})
		if err != nil {
			span.RecordError(err)
			return &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: "compress", Path: up.file.OriginalName,
				Code: "TRANSCODE_FAILED", Field: up.file.Field, Err: err}
		}
		if res.Reencoded {
			saved += int64(len(data) - len(res.Data))
			data, ext = res.Data, res.Ext
			up.file.MimeType = res.MimeType
			up.file.Compressed = true
		}
		if ext == "" {
			ext = res.Ext
		}
		if err := p.write(st, up, ext, bytes.NewReader(data), 0); err != nil {
			span.RecordError(err)
			return err
		}
		up.data = nil
	}
	span.SetAttributes(attribute.Int64("bytes_saved", saved))
	return nil
}
