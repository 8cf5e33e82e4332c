package handlers

import (
	"encoding/json"
	"net/http"
	"path"

	"github.com/gorilla/mux"
	"github.com/maneesh/blogmedia/internal/executor"
	"github.com/maneesh/blogmedia/internal/ingress"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/remote"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PreuploadRequest is the body of POST /preupload/{scene}.
type PreuploadRequest struct {
	Paths         []string `json:"paths"`
	DeleteSources bool     `json:"deleteSources"`
}

// PreuploadResult is the outcome of one speculative upload.
type PreuploadResult struct {
	Index        int                `json:"index"`
	Path         string             `json:"path"`
	Key          string             `json:"key,omitempty"`
	URL          string             `json:"url,omitempty"`
	ThumbnailURL string             `json:"thumbnailUrl,omitempty"`
	SizeBytes    int64              `json:"sizeBytes,omitempty"`
	Error        *ingress.ErrorBody `json:"error,omitempty"`
}

// PreuploadHandler uploads temp files to the object store ahead of
// publication. Items succeed or fail independently.
type PreuploadHandler struct {
	uploader    *remote.Service
	concurrency int
	log         *logrus.Entry
}

// NewPreuploadHandler creates the preupload handler.
func NewPreuploadHandler(uploader *remote.Service, concurrency int) *PreuploadHandler {
	if concurrency <= 0 {
		concurrency = executor.DefaultConcurrency
	}
	return &PreuploadHandler{
		uploader:    uploader,
		concurrency: concurrency,
		log:         logrus.WithField("handler", "preupload"),
	}
}

// ServeHTTP handles POST /preupload/{scene}.
func (h *PreuploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "preupload",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if h.uploader == nil {
		ingress.WriteError(w, mediaerr.BadRequest("preupload", "OBJECT_STORE_DISABLED", "no object store is configured"))
		return
	}

	sc := scene.Scene(mux.Vars(r)["scene"])
	var req PreuploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody)).Decode(&req); err != nil {
		ingress.WriteError(w, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: "preupload", Code: "INVALID_JSON", Message: "malformed preupload request", Err: err})
		return
	}
	if len(req.Paths) == 0 {
		ingress.WriteError(w, mediaerr.BadRequest("preupload", "NO_ITEMS", "nothing to upload"))
		return
	}
	span.SetAttributes(attribute.String("scene", string(sc)), attribute.Int("item_count", len(req.Paths)))

	items := make([]remote.Item, len(req.Paths))
	for i, p := range req.Paths {
		items[i] = remote.Item{SourcePath: p, OriginalName: path.Base(p)}
	}
	results, err := h.uploader.UploadBatch(ctx, items, sc, remote.BatchOptions{
		Concurrency:   h.concurrency,
		Strict:        false,
		DeleteSources: req.DeleteSources,
	})
	if err != nil {
		span.RecordError(err)
		ingress.WriteError(w, err)
		return
	}

	out := make([]PreuploadResult, len(results))
	failed := 0
	for i, res := range results {
		out[i] = PreuploadResult{Index: i, Path: req.Paths[i]}
		if res.Err != nil {
			failed++
			me := ingress.Normalize(res.Err)
			out[i].Error = &ingress.ErrorBody{Code: me.Code, Message: me.Error(), Data: me.Data}
			continue
		}
		out[i].Key = res.Uploaded.Key
		out[i].URL = res.Uploaded.URL
		out[i].ThumbnailURL = res.Uploaded.ThumbnailURL
		out[i].SizeBytes = res.Uploaded.SizeBytes
	}

	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	h.log.WithFields(logrus.Fields{"scene": sc, "items": len(out), "failed": failed}).Info("preupload completed")
	writeJSON(w, status, map[string]any{"results": out})
}
