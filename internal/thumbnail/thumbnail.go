// Package thumbnail derives resized secondary assets from primary images.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/naming"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/maneesh/blogmedia/internal/transcode"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("blogmedia-thumbnail")

// Suffix is appended to the primary's stem.
const Suffix = "_thumb"

// Default thumbnail settings.
const (
	DefaultWidth   = 320
	DefaultHeight  = 320
	DefaultFormat  = "jpeg"
	DefaultQuality = 80
)

// Options controls where a thumbnail lands and how failures are treated.
type Options struct {
	// Scene of the primary asset. When the scene configures a dedicated
	// thumbnail scene, output goes to that scene's directory.
	Scene scene.Scene
	// Strict turns a missing primary into an error instead of an empty result.
	Strict bool
}

// Generator writes thumbnails into the formal store.
type Generator struct {
	formal   *paths.Resolver
	registry *scene.Registry
}

// NewGenerator returns a generator writing under formal.
func NewGenerator(formal *paths.Resolver, registry *scene.Registry) *Generator {
	return &Generator{formal: formal, registry: registry}
}

// Generate renders a thumbnail of the primary asset at primaryAbs and returns
// its formal-store relative path. created is false when an identical
// thumbnail was already in place. With lenient options a missing primary
// yields ("", false, nil).
func (g *Generator) Generate(ctx context.Context, primaryAbs string, spec scene.ThumbSpec, opts Options) (rel string, created bool, err error) {
	const op = "thumbnail"
	ctx, span := tracer.Start(ctx, "thumbnail.generate",
		trace.WithAttributes(
			attribute.String("primary", primaryAbs),
			attribute.Bool("strict", opts.Strict),
		),
	)
	defer span.End()

	primaryRel, err := g.relative(primaryAbs)
	if err != nil {
		span.RecordError(err)
		return "", false, err
	}

	data, err := os.ReadFile(primaryAbs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if !opts.Strict {
				span.SetAttributes(attribute.Bool("skipped", true))
				return "", false, nil
			}
			return "", false, mediaerr.NotFound(op, primaryRel, err)
		}
		span.RecordError(err)
		return "", false, mediaerr.Internal(op, primaryRel, err)
	}
	if err := ctx.Err(); err != nil {
		return "", false, mediaerr.Internal(op, primaryRel, err)
	}

	out, format, err := Render(data, spec)
	if err != nil {
		span.RecordError(err)
		return "", false, mediaerr.Internal(op, primaryRel, err)
	}

	thumbRel, err := g.target(primaryRel, naming.FormatExt(format), opts.Scene)
	if err != nil {
		return "", false, err
	}
	thumbAbs, err := paths.ResolveAbsolute(g.formal.Root, thumbRel)
	if err != nil {
		return "", false, err
	}
	created, err = writeFile(thumbAbs, out)
	if errors.Is(err, paths.ErrDestinationExists) {
		span.RecordError(err)
		return "", false, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Path: thumbRel, Code: "DESTINATION_EXISTS",
			Message: fmt.Sprintf("%s already exists with different content", thumbRel), Err: err}
	} else if err != nil {
		span.RecordError(err)
		return "", false, mediaerr.Internal(op, thumbRel, err)
	}

	span.SetAttributes(
		attribute.String("thumbnail", thumbRel),
		attribute.Int("size_bytes", len(out)),
		attribute.Bool("created", created),
	)
	return thumbRel, created, nil
}

// Render resizes data to cover spec's box and encodes it in spec's format.
func Render(data []byte, spec scene.ThumbSpec) ([]byte, string, error) {
	spec = withDefaults(spec)
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode primary: %w", err)
	}
	thumb := imaging.Fill(img, spec.Width, spec.Height, imaging.Center, imaging.Lanczos)
	out, err := transcode.Encode(thumb, spec.Format, spec.Quality)
	if err != nil {
		return nil, "", err
	}
	return out, spec.Format, nil
}

// Name returns the thumbnail file name for a primary path.
func Name(primary, ext string) string {
	return naming.Stem(primary) + Suffix + ext
}

func (g *Generator) target(primaryRel, ext string, s scene.Scene) (string, error) {
	name := Name(primaryRel, ext)
	if s == "" {
		return path.Join(path.Dir(primaryRel), name), nil
	}
	tpl, err := g.registry.Template(s)
	if err != nil {
		return "", err
	}
	if tpl.Thumbnail == nil || tpl.Thumbnail.Scene == "" {
		return path.Join(path.Dir(primaryRel), name), nil
	}
	thumbTpl, err := g.registry.Template(tpl.Thumbnail.Scene)
	if err != nil {
		return "", err
	}
	dir := thumbTpl.BaseDir
	if part := g.registry.Partition(s, primaryRel); part != "" && thumbTpl.DatePartitioned {
		dir = path.Join(dir, part)
	}
	return path.Join(dir, name), nil
}

func (g *Generator) relative(abs string) (string, error) {
	rel, err := filepath.Rel(g.formal.Root, abs)
	if err != nil {
		return "", mediaerr.BadPath("thumbnail", abs, "primary is not under the formal root")
	}
	rel = filepath.ToSlash(rel)
	if _, err := paths.ResolveAbsolute(g.formal.Root, rel); err != nil {
		return "", err
	}
	return rel, nil
}

func withDefaults(spec scene.ThumbSpec) scene.ThumbSpec {
	if spec.Width <= 0 {
		spec.Width = DefaultWidth
	}
	if spec.Height <= 0 {
		spec.Height = DefaultHeight
	}
	if spec.Format == "" {
		spec.Format = DefaultFormat
	}
	if spec.Quality <= 0 {
		spec.Quality = DefaultQuality
	}
	return spec
}

// writeFile writes data through a temp file in the destination directory and
// places it without replacing an existing file.
func writeFile(abs string, data []byte) (bool, error) {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, ".thumb-*")
	if err != nil {
		return false, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return false, err
	}
	return paths.Place(tmpPath, abs)
}
