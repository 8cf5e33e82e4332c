// Package ingress is the upload middleware chain: bind the scene, stream and
// filter multipart files into the temp store, then compress images.
package ingress

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/models"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("blogmedia-ingress")

// Destination is where the current request's files go.
type Destination struct {
	Scene   scene.Scene
	Policy  scene.Policy
	TempDir string // temp-store relative directory
	// Compress is false when the scene disables it or the caller sent compress=off.
	Compress bool
}

type ctxKey int

const (
	destinationKey ctxKey = iota
	stateKey
)

type upload struct {
	file models.TempFile
	data []byte // held until the compression stage writes it
	abs  string // set once the file exists on disk
}

type state struct {
	dest    Destination
	uploads []*upload
}

// Pipeline builds the ingress middleware.
type Pipeline struct {
	registry   *scene.Registry
	temp       *paths.Resolver
	maxRequest int64
	now        func() time.Time
	log        *logrus.Entry
}

// Config wires a Pipeline. MaxRequestBytes caps the whole request body; zero
// disables the cap.
type Config struct {
	Registry        *scene.Registry
	Temp            *paths.Resolver
	MaxRequestBytes int64
	Now             func() time.Time
}

// New returns an ingress pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		registry:   cfg.Registry,
		temp:       cfg.Temp,
		maxRequest: cfg.MaxRequestBytes,
		now:        cfg.Now,
		log:        logrus.WithField("component", "ingress"),
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Chain wraps final in the full ingress chain.
func (p *Pipeline) Chain(final http.Handler) http.Handler {
	return p.BindDestination(p.ParseMultipart(p.Compress(final)))
}

// BindDestination resolves the {scene} route variable and stores the
// Destination in the request context.
func (p *Pipeline) BindDestination(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := scene.Scene(mux.Vars(r)["scene"])
		tpl, err := p.registry.Template(sc)
		if err != nil {
			WriteError(w, err)
			return
		}
		dir, err := p.registry.TargetDir(sc, p.now())
		if err != nil {
			WriteError(w, err)
			return
		}
		dest := Destination{
			Scene:    sc,
			Policy:   tpl.Policy,
			TempDir:  dir,
			Compress: tpl.Policy.Compress && !compressOff(r),
		}
		ctx := context.WithValue(r.Context(), destinationKey, dest)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DestinationFrom returns the Destination bound to ctx.
func DestinationFrom(ctx context.Context) (Destination, bool) {
	d, ok := ctx.Value(destinationKey).(Destination)
	return d, ok
}

// Files returns the files written by the ingress chain for this request.
func Files(ctx context.Context) []models.TempFile {
	st, ok := ctx.Value(stateKey).(*state)
	if !ok {
		return nil
	}
	out := make([]models.TempFile, 0, len(st.uploads))
	for _, up := range st.uploads {
		if up.abs != "" {
			out = append(out, up.file)
		}
	}
	return out
}

func compressOff(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("compress")) {
	case "off", "false", "0", "no":
		return true
	}
	return false
}

// cleanup removes every file the failed request wrote.
func (p *Pipeline) cleanup(st *state) {
	for _, up := range st.uploads {
		if up.abs == "" {
			continue
		}
		if err := os.Remove(up.abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.log.WithError(err).WithField("path", up.file.RelativePath).Warn("failed to remove rejected upload")
		}
		up.abs = ""
	}
}

func stateFrom(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(stateKey).(*state)
	if !ok {
		return nil, mediaerr.Internal("ingress", "", errors.New("multipart stage did not run"))
	}
	return st, nil
}
