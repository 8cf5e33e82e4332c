package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/blogmedia/internal/executor"
	"github.com/maneesh/blogmedia/internal/ingress"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/models"
	"github.com/maneesh/blogmedia/internal/naming"
	"github.com/maneesh/blogmedia/internal/paths"
	"github.com/maneesh/blogmedia/internal/promote"
	"github.com/maneesh/blogmedia/internal/remote"
	"github.com/maneesh/blogmedia/internal/rollback"
	"github.com/maneesh/blogmedia/internal/scene"
	"github.com/maneesh/blogmedia/internal/validator"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxPublishBody = 1 << 20

// PublishRequest is the body of POST /publish.
type PublishRequest struct {
	Backend models.Backend `json:"backend"`
	// Strict only applies to the object-store backend; local promotion is
	// always all-or-nothing. Omitted means strict.
	Strict      *bool          `json:"strict,omitempty"`
	CleanupTemp bool           `json:"cleanupTemp"`
	Items       []promote.Item `json:"items"`
}

// PublishFailure is an item a lenient publication skipped.
type PublishFailure struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	ingress.ErrorBody
}

// PublishResponse is the body of a successful publication.
type PublishResponse struct {
	Assets []*models.StoredAsset `json:"assets"`
	Failed []PublishFailure      `json:"failed,omitempty"`
}

// PublishHandler moves validated temp assets to their published location and
// records them in the database.
type PublishHandler struct {
	validator   *validator.Validator
	promoter    *promote.Service
	uploader    *remote.Service
	undo        *rollback.Undoer
	formal      *paths.Resolver
	db          AssetStore
	cache       AssetCache
	concurrency int
	maxItems    int
	now         func() time.Time
	log         *logrus.Entry
}

// PublishConfig wires a PublishHandler. Uploader may be nil when no object
// store is configured. Undoer must reach both the formal root and the object
// store.
type PublishConfig struct {
	Validator   *validator.Validator
	Promoter    *promote.Service
	Uploader    *remote.Service
	Undoer      *rollback.Undoer
	Formal      *paths.Resolver
	DB          AssetStore
	Cache       AssetCache
	Concurrency int
	MaxItems    int
	Now         func() time.Time
}

// NewPublishHandler creates the publish handler.
func NewPublishHandler(cfg PublishConfig) *PublishHandler {
	ph := &PublishHandler{
		validator:   cfg.Validator,
		promoter:    cfg.Promoter,
		uploader:    cfg.Uploader,
		undo:        cfg.Undoer,
		formal:      cfg.Formal,
		db:          cfg.DB,
		cache:       cfg.Cache,
		concurrency: cfg.Concurrency,
		maxItems:    cfg.MaxItems,
		now:         cfg.Now,
		log:         logrus.WithField("handler", "publish"),
	}
	if ph.now == nil {
		ph.now = time.Now
	}
	if ph.concurrency <= 0 {
		ph.concurrency = executor.DefaultConcurrency
	}
	return ph
}

// publication is the outcome of the storage step, before persistence.
type publication struct {
	rows      []*models.StoredAsset
	actions   []rollback.Action
	published []int // item indexes that were stored
	failed    []PublishFailure
}

// ServeHTTP handles POST /publish.
func (ph *PublishHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "publish",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	req, err := ph.decode(w, r)
	if err != nil {
		ingress.WriteError(w, err)
		return
	}
	strict := req.Strict == nil || *req.Strict
	span.SetAttributes(
		attribute.String("backend", string(req.Backend)),
		attribute.Int("item_count", len(req.Items)),
		attribute.Bool("strict", strict),
	)
	log := ph.log.WithFields(logrus.Fields{"backend": req.Backend, "items": len(req.Items)})

	// Step 1: every referenced temp file must exist
	inputs := make([]string, len(req.Items))
	for i, it := range req.Items {
		inputs[i] = it.TempPath
	}
	assets, err := ph.validator.ValidateExistsBatch(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		ingress.WriteError(w, err)
		return
	}

	// Step 2: promote or upload
	var pub *publication
	if req.Backend == models.BackendObjectStore {
		pub, err = ph.publishRemote(ctx, req.Items, assets, strict)
	} else {
		pub, err = ph.publishLocal(ctx, req.Items)
	}
	if err != nil {
		span.RecordError(err)
		ingress.WriteError(w, err)
		return
	}

	// Step 3: persist rows; undo storage when that fails
	if len(pub.rows) > 0 {
		if err := ph.db.CreateAssets(ctx, pub.rows); err != nil {
			span.RecordError(err)
			rep := ph.undo.UndoAll(ctx, pub.actions)
			log.WithError(err).WithField("rolled_back", rep.RolledBack).Error("failed to persist published assets")
			ingress.WriteError(w, &mediaerr.Error{
				Kind:    mediaerr.KindInternal,
				Op:      "publish",
				Code:    "PERSIST_FAILED",
				Message: fmt.Sprintf("failed to save asset records, %d stored artifacts rolled back", rep.RolledBack),
				Data:    map[string]any{"rolledBackCount": rep.RolledBack, "rollbackFailedCount": len(rep.Failed)},
				Err:     err,
			})
			return
		}
	}

	// Step 4: invalidate cache and drop temp sources
	ids := make([]string, len(pub.rows))
	for i, row := range pub.rows {
		ids[i] = row.ID
	}
	if ph.cache != nil {
		if err := ph.cache.InvalidateAssets(ctx, ids...); err != nil {
			log.WithError(err).Warn("failed to invalidate cache")
		}
	}
	if req.CleanupTemp {
		ph.cleanupTemp(assets, pub.published)
	}

	status := http.StatusCreated
	if len(pub.failed) > 0 {
		status = http.StatusMultiStatus
	}
	log.WithFields(logrus.Fields{"published": len(pub.rows), "failed": len(pub.failed)}).Info("publication completed")
	writeJSON(w, status, PublishResponse{Assets: pub.rows, Failed: pub.failed})
}

func (ph *PublishHandler) decode(w http.ResponseWriter, r *http.Request) (*PublishRequest, error) {
	const op = "publish"
	var req PublishRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Code: "INVALID_JSON", Message: "malformed publish request", Err: err}
	}
	if req.Backend == "" {
		req.Backend = models.BackendLocal
	}
	if req.Backend != models.BackendLocal && req.Backend != models.BackendObjectStore {
		return nil, &mediaerr.Error{Kind: mediaerr.KindBadRequest, Op: op, Code: "UNKNOWN_BACKEND", Field: "backend",
			Message: fmt.Sprintf("unknown backend %q", req.Backend)}
	}
	if len(req.Items) == 0 {
		return nil, mediaerr.BadRequest(op, "NO_ITEMS", "nothing to publish")
	}
	if ph.maxItems > 0 && len(req.Items) > ph.maxItems {
		return nil, mediaerr.BadRequest(op, "TOO_MANY_ITEMS", fmt.Sprintf("at most %d items may be published at once", ph.maxItems))
	}
	return &req, nil
}

func (ph *PublishHandler) publishLocal(ctx context.Context, items []promote.Item) (*publication, error) {
	ctx, span := tracer.Start(ctx, "publish_local")
	defer span.End()

	promoted, err := ph.promoter.PromoteBatch(ctx, items)
	if err != nil {
		return nil, err
	}

	pub := &publication{}
	now := ph.now()
	for i, p := range promoted {
		row := &models.StoredAsset{
			ID:           uuid.NewString(),
			Scene:        string(p.Scene),
			Backend:      models.BackendLocal,
			RelativePath: p.FormalPath,
			AbsolutePath: p.AbsolutePath,
			URL:          ph.formal.WebPath(p.FormalPath),
			SizeBytes:    p.SizeBytes,
			MimeType:     p.MimeType,
			Hash:         ph.hashFile(p.AbsolutePath),
			CreatedAt:    now,
		}
		if p.ThumbnailPath != "" {
			row.ThumbnailPath = ph.formal.WebPath(p.ThumbnailPath)
		}
		pub.rows = append(pub.rows, row)
		pub.actions = append(pub.actions, p.Actions...)
		pub.published = append(pub.published, i)
	}
	return pub, nil
}

// publishRemote uploads items grouped by scene. In strict mode a failing group
// also rolls back the groups uploaded before it.
func (ph *PublishHandler) publishRemote(ctx context.Context, items []promote.Item, assets []validator.Asset, strict bool) (*publication, error) {
	ctx, span := tracer.Start(ctx, "publish_remote")
	defer span.End()

	if ph.uploader == nil {
		return nil, mediaerr.BadRequest("publish", "OBJECT_STORE_DISABLED", "no object store is configured")
	}

	var order []scene.Scene
	groups := make(map[scene.Scene][]int)
	for i, it := range items {
		if _, ok := groups[it.Scene]; !ok {
			order = append(order, it.Scene)
		}
		groups[it.Scene] = append(groups[it.Scene], i)
	}

	byIndex := make([]*models.StoredAsset, len(items))
	var actions []rollback.Action
	var failed []PublishFailure
	now := ph.now()

	for _, sc := range order {
		idx := groups[sc]
		batch := make([]remote.Item, len(idx))
		for j, i := range idx {
			batch[j] = remote.Item{SourcePath: assets[i].RelativePath, OriginalName: path.Base(assets[i].RelativePath)}
		}
		results, err := ph.uploader.UploadBatch(ctx, batch, sc, remote.BatchOptions{Concurrency: ph.concurrency, Strict: strict})
		if err != nil {
			if len(actions) > 0 {
				ph.undo.UndoAll(ctx, actions)
			}
			return nil, err
		}
		for j, res := range results {
			i := idx[j]
			if res.Err != nil {
				me := ingress.Normalize(res.Err)
				failed = append(failed, PublishFailure{
					Index:     i,
					Path:      items[i].TempPath,
					ErrorBody: ingress.ErrorBody{Code: me.Code, Message: me.Error(), Data: me.Data},
				})
				continue
			}
			up := res.Uploaded
			byIndex[i] = &models.StoredAsset{
				ID:            uuid.NewString(),
				Scene:         string(sc),
				Backend:       models.BackendObjectStore,
				RelativePath:  up.Key,
				URL:           up.URL,
				ThumbnailPath: up.ThumbnailURL,
				SizeBytes:     up.SizeBytes,
				MimeType:      up.MimeType,
				Hash:          up.Hash,
				CreatedAt:     now,
			}
			actions = append(actions, up.Rollback...)
		}
	}

	pub := &publication{actions: actions, failed: failed}
	for i, row := range byIndex {
		if row != nil {
			pub.rows = append(pub.rows, row)
			pub.published = append(pub.published, i)
		}
	}
	span.SetAttributes(attribute.Int("published", len(pub.rows)), attribute.Int("failed", len(failed)))
	return pub, nil
}

func (ph *PublishHandler) hashFile(abs string) string {
	f, err := os.Open(abs)
	if err != nil {
		ph.log.WithError(err).Warn("failed to open asset for hashing")
		return ""
	}
	defer f.Close()
	sum, _, err := naming.HashReader(f)
	if err != nil {
		ph.log.WithError(err).Warn("failed to hash asset")
		return ""
	}
	return sum
}

func (ph *PublishHandler) cleanupTemp(assets []validator.Asset, published []int) {
	for _, i := range published {
		if err := os.Remove(assets[i].AbsolutePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			ph.log.WithError(err).WithField("path", assets[i].RelativePath).Warn("failed to remove temp source")
		}
	}
}
