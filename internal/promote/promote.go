// Package promote copies validated temp assets into their scene's formal
// directory. Batch promotion is all-or-nothing: a failed batch leaves no formal
// artifact behind.
package promote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/maneesh/blogmedia/internal/executor"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/metrics"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/rollback"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/maneesh/blogmedia/internal/thumbnail"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("blogmedia-promote")

// Item is one member of a promotion batch.
type Item struct {
	TempPath string      `json:"path"`
	Scene    scene.Scene `json:"scene"`
}

// Promoted describes a promoted asset.
type Promoted struct {
	Scene         scene.Scene
	TempPath      string // temp-store relative source
	FormalPath    string // formal-store relative destination
	AbsolutePath  string
	ThumbnailPath string // formal-store relative, empty when the scene has none
	SizeBytes     int64
	MimeType      string
	Actions       []rollback.Action
}

// Service promotes temp assets into the formal store.
type Service struct {
	temp        *paths.Resolver
	formal      *paths.Resolver
	registry    *scene.Registry
	thumbs      *thumbnail.Generator
	undo        *rollback.Undoer
	concurrency int
	now         func() time.Time
	observer    metrics.Observer
	log         *logrus.Entry
}

// Config wires a Service.
type Config struct {
	Temp        *paths.Resolver
	Formal      *paths.Resolver
	Registry    *scene.Registry
	Thumbnails  *thumbnail.Generator
	Undoer      *rollback.Undoer
	Concurrency int
	Observer    metrics.Observer
	Now         func() time.Time
}

// NewService returns a promotion service.
func NewService(cfg Config) *Service {
	s := &Service{
		temp:        cfg.Temp,
		formal:      cfg.Formal,
		registry:    cfg.Registry,
		thumbs:      cfg.Thumbnails,
		undo:        cfg.Undoer,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
		observer:    metrics.OrNop(cfg.Observer),
		log:         logrus.WithField("component", "promote"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.thumbs == nil {
		s.thumbs = thumbnail.NewGenerator(cfg.Formal, cfg.Registry)
	}
	if s.undo == nil {
		s.undo = rollback.NewUndoer(cfg.Formal.Root)
	}
	return s
}

// PromoteOne copies the temp asset into sc's formal directory, keeping its
// base name, and renders the scene's thumbnail. A failure after the copy
// removes whatever this call created.
func (s *Service) PromoteOne(ctx context.Context, tempPath string, sc scene.Scene) (*Promoted, error) {
	return s.promoteOne(ctx, tempPath, sc, s.now())
}

func (s *Service) promoteOne(ctx context.Context, tempPath string, sc scene.Scene, at time.Time) (*Promoted, error) {
	const op = "promote"
	ctx, span := tracer.Start(ctx, "promote_one",
		trace.WithAttributes(
			attribute.String("temp_path", tempPath),
			attribute.String("scene", string(sc)),
		),
	)
	defer span.End()

	plan, err := s.plan(tempPath, sc, at)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, mediaerr.Internal(op, plan.srcRel, err)
	}

	if err := os.MkdirAll(filepath.Dir(plan.dstAbs), 0o755); err != nil {
		span.RecordError(err)
		return nil, mediaerr.Internal(op, plan.dstRel, err)
	}
	size, created, err := copyFile(plan.srcAbs, plan.dstAbs)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, mediaerr.Internal(op, plan.srcRel, fmt.Errorf("temp source vanished before promotion: %w", err))
		case errors.Is(err, paths.ErrDestinationExists):
			return nil, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Path: plan.dstRel, Code: "DESTINATION_EXISTS",
				Message: fmt.Sprintf("%s is already published with different content", plan.dstRel), Err: err}
		}
		return nil, mediaerr.Internal(op, plan.dstRel, err)
	}

	p := &Promoted{
		Scene:        sc,
		TempPath:     plan.srcRel,
		FormalPath:   plan.dstRel,
		AbsolutePath: plan.dstAbs,
		SizeBytes:    size,
	}
	// Only files this call created are undone.
	if created {
		p.Actions = append(p.Actions, rollback.DeleteLocal(plan.dstRel))
	}
	span.SetAttributes(attribute.Bool("already_promoted", !created))
	if mt, err := mimetype.DetectFile(plan.dstAbs); err == nil {
		p.MimeType = mt.String()
	}

	if plan.tpl.Thumbnail != nil {
		thumbRel, thumbCreated, err := s.thumbs.Generate(ctx, plan.dstAbs, plan.tpl.Thumbnail.Spec, thumbnail.Options{Scene: sc, Strict: true})
		if err != nil {
			span.RecordError(err)
			s.undo.UndoAll(ctx, p.Actions)
			return nil, err
		}
		p.ThumbnailPath = thumbRel
		if thumbCreated {
			p.Actions = append(p.Actions, rollback.DeleteLocal(thumbRel))
		}
	}

	span.SetAttributes(attribute.String("formal_path", p.FormalPath), attribute.Int64("size_bytes", size))
	return p, nil
}

// PromoteBatch promotes every item or none. On the first failure pending items
// are not started, and every item already promoted is deleted before the
// error is returned as a *rollback.BatchError.
func (s *Service) PromoteBatch(ctx context.Context, items []Item) ([]*Promoted, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "promote_batch",
		trace.WithAttributes(attribute.Int("item_count", len(items))),
	)
	defer span.End()

	promoted, err := s.promoteBatch(ctx, items)
	s.observer.RecordPromotion(time.Since(start), len(items), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return promoted, nil
}

func (s *Service) promoteBatch(ctx context.Context, items []Item) ([]*Promoted, error) {
	at := s.now()

	// Reject colliding destinations before any I/O.
	seen := make(map[string]int, len(items))
	for i, it := range items {
		plan, err := s.plan(it.TempPath, it.Scene, at)
		if err != nil {
			return nil, &rollback.BatchError{Op: "promote", Total: len(items), Skipped: len(items) - 1,
				Failures: []rollback.ItemFailure{{Index: i, Name: it.TempPath, Err: err}}}
		}
		if j, dup := seen[plan.dstRel]; dup {
			err := mediaerr.BadRequest("promote", "DUPLICATE_DESTINATION",
				fmt.Sprintf("items %d and %d both promote to %s", j, i, plan.dstRel))
			return nil, &rollback.BatchError{Op: "promote", Total: len(items), Skipped: len(items) - 1,
				Failures: []rollback.ItemFailure{{Index: i, Name: it.TempPath, Err: err}}}
		}
		seen[plan.dstRel] = i
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	started := make([]bool, len(items))
	results := executor.RunBounded(runCtx, items, s.concurrency, func(ctx context.Context, i int, it Item) (*Promoted, error) {
		started[i] = true
		p, err := s.promoteOne(ctx, it.TempPath, it.Scene, at)
		if err != nil {
			abort()
		}
		return p, err
	})

	promoted := make([]*Promoted, len(items))
	var actions []rollback.Action
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		promoted[i] = r.Value
		actions = append(actions, r.Value.Actions...)
	}
	failed, _ := executor.FirstError(results)
	if failed < 0 {
		return promoted, nil
	}

	be := &rollback.BatchError{Op: "promote", Total: len(items)}
	be.Failures = append(be.Failures, rollback.ItemFailure{Index: failed, Name: items[failed].TempPath, Err: results[failed].Err})
	for i, r := range results {
		switch {
		case i == failed:
		case r.Err == nil:
			be.Succeeded++
		case !started[i]:
			be.Skipped++
		default:
			be.Failures = append(be.Failures, rollback.ItemFailure{Index: i, Name: items[i].TempPath, Err: r.Err})
		}
	}

	rep := s.undo.UndoAll(ctx, actions)
	be.RolledBack = rep.RolledBack
	be.UndoFailed = rep.Failed
	s.log.WithFields(logrus.Fields{
		"total":       be.Total,
		"succeeded":   be.Succeeded,
		"rolled_back": be.RolledBack,
		"failed":      len(be.Failures),
	}).WithError(be.Cause()).Warn("promotion batch aborted")
	return nil, be
}

type plan struct {
	tpl    scene.Template
	srcRel string
	srcAbs string
	dstRel string
	dstAbs string
}

func (s *Service) plan(tempPath string, sc scene.Scene, at time.Time) (plan, error) {
	tpl, err := s.registry.Template(sc)
	if err != nil {
		return plan{}, err
	}
	dir, err := s.registry.TargetDir(sc, at)
	if err != nil {
		return plan{}, err
	}
	srcRel, srcAbs, err := s.temp.Absolute(tempPath)
	if err != nil {
		return plan{}, err
	}
	dstRel := path.Join(dir, path.Base(srcRel))
	dstAbs, err := paths.ResolveAbsolute(s.formal.Root, dstRel)
	if err != nil {
		return plan{}, err
	}
	return plan{tpl: tpl, srcRel: srcRel, srcAbs: srcAbs, dstRel: dstRel, dstAbs: dstAbs}, nil
}

// copyFile copies src to dst through a temp file in dst's directory so a
// partially written destination is never visible. An existing dst is never
// replaced: identical content reports created=false, anything else fails with
// paths.ErrDestinationExists. src is left untouched.
func copyFile(src, dst string) (n int64, created bool, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, false, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".promote-*")
	if err != nil {
		return 0, false, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err = io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, false, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, false, err
	}
	if err := tmp.Close(); err != nil {
		return 0, false, err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return 0, false, err
	}
	created, err = paths.Place(tmpPath, dst)
	if err != nil {
		return 0, false, err
	}
	return n, created, nil
}
