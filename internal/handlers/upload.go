package handlers

import (
	"net/http"

	"github.com/maneesh/blogmedia/internal/ingress"
	"github.com/maneesh/blogmedia/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UploadResponse lists the files written to the temp store.
type UploadResponse struct {
	Scene string            `json:"scene"`
	Files []models.TempFile `json:"files"`
}

// UploadHandler answers POST /uploads/{scene} once the ingress chain has
// stored the request's files.
type UploadHandler struct {
	log *logrus.Entry
}

// NewUploadHandler creates the upload handler.
func NewUploadHandler() *UploadHandler {
	return &UploadHandler{log: logrus.WithField("handler", "upload")}
}

// ServeHTTP handles POST /uploads/{scene}.
func (uh *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "upload_temp",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	dest, _ := ingress.DestinationFrom(r.Context())
	files := ingress.Files(r.Context())
	span.SetAttributes(
		attribute.String("scene", string(dest.Scene)),
		attribute.Int("file_count", len(files)),
	)

	uh.log.WithFields(logrus.Fields{"scene": dest.Scene, "files": len(files)}).Info("temp upload stored")
	writeJSON(w, http.StatusCreated, UploadResponse{Scene: string(dest.Scene), Files: files})
}
