// Package remote transcodes assets and uploads them to object storage.
//
// Every upload returns the rollback actions that remove exactly what it put.
// Batches run in an explicit mode: strict batches undo all successes when any
// item fails, lenient batches return per-item results untouched.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/maneesh/blogmedia/internal/executor"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/metrics"
	"github.com/maneesh/blogmedia/internal/naming"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/rollback"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/maneesh/blogmedia/internal/thumbnail"
	"github.com/maneesh/blogmedia/internal/transcode"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("blogmedia-remote")

// ObjectStore is the object-storage backend. Delete of a missing key succeeds.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Uploaded is one object committed to the backend.
type Uploaded struct {
	URL          string
	Key          string
	ThumbnailURL string
	ThumbnailKey string
	SizeBytes    int64
	MimeType     string
	Hash         string
	Rollback     []rollback.Action
}

// Item is one member of an upload batch. When Data is nil the bytes are read
// from SourcePath in the temp store.
type Item struct {
	Data         []byte
	OriginalName string
	SourcePath   string
}

// BatchOptions controls UploadBatch. Strict has no default; callers choose
// the failure contract explicitly.
type BatchOptions struct {
	Concurrency   int
	Strict        bool
	DeleteSources bool
}

// ItemResult is the outcome of one lenient batch item.
type ItemResult struct {
	Index    int
	Uploaded *Uploaded
	Err      error
}

// Service uploads assets to an ObjectStore.
type Service struct {
	store    ObjectStore
	registry *scene.Registry
	temp     *paths.Resolver
	undo     *rollback.Undoer
	now      func() time.Time
	observer metrics.Observer
	log      *logrus.Entry
}

// Config wires a Service.
type Config struct {
	Store    ObjectStore
	Registry *scene.Registry
	Temp     *paths.Resolver
	Undoer   *rollback.Undoer
	Observer metrics.Observer
	Now      func() time.Time
}

// NewService returns an upload service. The undoer must be able to reach the
// same object store.
func NewService(cfg Config) *Service {
	s := &Service{
		store:    cfg.Store,
		registry: cfg.Registry,
		temp:     cfg.Temp,
		undo:     cfg.Undoer,
		now:      cfg.Now,
		observer: metrics.OrNop(cfg.Observer),
		log:      logrus.WithField("component", "remote"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.undo == nil {
		root := ""
		if cfg.Temp != nil {
			root = cfg.Temp.Root
		}
		s.undo = rollback.NewUndoer(root, rollback.WithRemote(cfg.Store), rollback.WithObserver(s.observer))
	}
	return s
}

// UploadOne transcodes data per the scene policy, uploads it under a fresh
// key, and uploads the scene's thumbnail when configured.
func (s *Service) UploadOne(ctx context.Context, data []byte, originalName string, sc scene.Scene) (*Uploaded, error) {
	start := time.Now()
	up, err := s.uploadOne(ctx, data, originalName, sc)
	var size int64
	if up != nil {
		size = up.SizeBytes
	}
	s.observer.RecordUpload(time.Since(start), size, err)
	return up, err
}

func (s *Service) uploadOne(ctx context.Context, data []byte, originalName string, sc scene.Scene) (*Uploaded, error) {
	const op = "upload"
	ctx, span := tracer.Start(ctx, "upload_one",
		trace.WithAttributes(
			attribute.String("original_name", originalName),
			attribute.String("scene", string(sc)),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	tpl, err := s.registry.Template(sc)
	if err != nil {
		return nil, err
	}
	dir, err := s.registry.TargetDir(sc, s.now())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, mediaerr.BadRequest(op, "EMPTY_FILE", fmt.Sprintf("%s is empty", originalName))
	}

	body, ext, mimeType := data, naming.Ext(originalName), naming.ExtToMIME(naming.Ext(originalName))
	if tpl.Policy.Compress && transcode.IsImageMIME(mimeType) {
		res, err := transcode.Transcode(data, transcode.Policy{Format: tpl.Policy.Format, Quality: tpl.Policy.Quality})
		if err != nil {
			span.RecordError(err)
			return nil, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Path: originalName, Code: "TRANSCODE_FAILED", Err: err}
		}
		body, ext, mimeType = res.Data, res.Ext, res.MimeType
	}

	name := naming.NewFilename(ext)
	key := path.Join(dir, name)
	up := &Uploaded{
		Key:       key,
		URL:       s.store.URL(key),
		SizeBytes: int64(len(body)),
		MimeType:  mimeType,
		Hash:      naming.ComputeHash(body),
	}

	if err := s.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), mimeType); err != nil {
		span.RecordError(err)
		// A failed PUT may still have landed; compensate for it too.
		s.undo.UndoAll(ctx, []rollback.Action{rollback.DeleteRemote(key)})
		return nil, mediaerr.Internal(op, key, err)
	}
	up.Rollback = append(up.Rollback, rollback.DeleteRemote(key))

	if tpl.Thumbnail != nil {
		if err := s.uploadThumbnail(ctx, up, body, name, dir, sc, tpl); err != nil {
			span.RecordError(err)
			s.undo.UndoAll(ctx, up.Rollback)
			return nil, err
		}
	}

	span.SetAttributes(attribute.String("key", key))
	return up, nil
}

func (s *Service) uploadThumbnail(ctx context.Context, up *Uploaded, body []byte, name, dir string, sc scene.Scene, tpl scene.Template) error {
	out, format, err := thumbnail.Render(body, tpl.Thumbnail.Spec)
	if err != nil {
		return mediaerr.Internal("thumbnail", up.Key, err)
	}
	thumbDir := dir
	if tpl.Thumbnail.Scene != "" {
		if thumbDir, err = s.registry.TargetDir(tpl.Thumbnail.Scene, s.now()); err != nil {
			return err
		}
	}
	ext := naming.FormatExt(format)
	key := path.Join(thumbDir, thumbnail.Name(name, ext))
	if err := s.store.Put(ctx, key, bytes.NewReader(out), int64(len(out)), naming.ExtToMIME(ext)); err != nil {
		up.Rollback = append(up.Rollback, rollback.DeleteRemote(key))
		return mediaerr.Internal("thumbnail", key, err)
	}
	up.ThumbnailKey = key
	up.ThumbnailURL = s.store.URL(key)
	up.Rollback = append(up.Rollback, rollback.DeleteRemote(key))
	return nil
}

// Rollback removes everything up put. Safe to call more than once.
func (s *Service) Rollback(ctx context.Context, up *Uploaded) error {
	if up == nil {
		return nil
	}
	rep := s.undo.UndoAll(ctx, up.Rollback)
	if len(rep.Failed) > 0 {
		return mediaerr.Internal("rollback", up.Key, fmt.Errorf("%d compensating deletes failed", len(rep.Failed)))
	}
	return nil
}

// UploadBatch uploads items for sc with bounded concurrency.
//
// Strict: any failure undoes every successful upload and returns a
// *rollback.BatchError; the result slice is nil. Lenient: returns one
// ItemResult per item and a nil error, performing no rollback.
//
// With DeleteSources, temp sources are removed only after every item in the
// batch has been uploaded.
func (s *Service) UploadBatch(ctx context.Context, items []Item, sc scene.Scene, opts BatchOptions) ([]ItemResult, error) {
	ctx, span := tracer.Start(ctx, "upload_batch",
		trace.WithAttributes(
			attribute.Int("item_count", len(items)),
			attribute.Bool("strict", opts.Strict),
		),
	)
	defer span.End()

	if _, err := s.registry.Template(sc); err != nil {
		return nil, err
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	started := make([]bool, len(items))
	results := executor.RunBounded(runCtx, items, opts.Concurrency, func(ctx context.Context, i int, it Item) (*Uploaded, error) {
		started[i] = true
		up, err := s.uploadItem(ctx, it, sc)
		if err != nil && opts.Strict {
			abort()
		}
		return up, err
	})

	out := make([]ItemResult, len(items))
	for i, r := range results {
		out[i] = ItemResult{Index: i, Uploaded: r.Value, Err: r.Err}
	}

	failed, _ := executor.FirstError(results)
	if failed < 0 {
		if opts.DeleteSources {
			s.deleteSources(items)
		}
		return out, nil
	}
	if !opts.Strict {
		span.SetAttributes(attribute.Bool("partial", true))
		return out, nil
	}

	be := &rollback.BatchError{Op: "upload", Total: len(items)}
	be.Failures = append(be.Failures, rollback.ItemFailure{Index: failed, Name: items[failed].OriginalName, Err: results[failed].Err})
	var actions []rollback.Action
	for i, r := range results {
		switch {
		case r.Err == nil:
			be.Succeeded++
			actions = append(actions, r.Value.Rollback...)
		case i == failed:
		case !started[i]:
			be.Skipped++
		default:
			be.Failures = append(be.Failures, rollback.ItemFailure{Index: i, Name: items[i].OriginalName, Err: r.Err})
		}
	}
	rep := s.undo.UndoAll(ctx, actions)
	be.RolledBack = rep.RolledBack
	be.UndoFailed = rep.Failed
	span.RecordError(be)
	s.log.WithFields(logrus.Fields{
		"scene":       sc,
		"total":       be.Total,
		"succeeded":   be.Succeeded,
		"rolled_back": be.RolledBack,
		"failed":      len(be.Failures),
	}).WithError(be.Cause()).Warn("upload batch aborted")
	return nil, be
}

func (s *Service) uploadItem(ctx context.Context, it Item, sc scene.Scene) (*Uploaded, error) {
	data := it.Data
	name := it.OriginalName
	if data == nil && it.SourcePath != "" {
		if s.temp == nil {
			return nil, mediaerr.BadRequest("upload", "NO_TEMP_STORE", "source paths require a temp store")
		}
		rel, abs, err := s.temp.Absolute(it.SourcePath)
		if err != nil {
			return nil, err
		}
		data, err = os.ReadFile(abs)
		if errors.Is(err, os.ErrNotExist) {
			return nil, mediaerr.NotFound("upload", rel, err)
		} else if err != nil {
			return nil, mediaerr.Internal("upload", rel, err)
		}
		if name == "" {
			name = path.Base(rel)
		}
	}
	return s.UploadOne(ctx, data, name, sc)
}

func (s *Service) deleteSources(items []Item) {
	for _, it := range items {
		if it.SourcePath == "" || s.temp == nil {
			continue
		}
		_, abs, err := s.temp.Absolute(it.SourcePath)
		if err != nil {
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("source", it.SourcePath).Warn("failed to delete uploaded source")
		}
	}
}
