package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/blogmedia/internal/ingress"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AssetHandler serves published asset metadata.
type AssetHandler struct {
	db    AssetStore
	cache AssetCache
	log   *logrus.Entry
}

// NewAssetHandler creates the asset handler. cache may be nil.
func NewAssetHandler(db AssetStore, cache AssetCache) *AssetHandler {
	return &AssetHandler{db: db, cache: cache, log: logrus.WithField("handler", "assets")}
}

// ServeHTTP handles GET /assets/{id}.
func (ah *AssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get_asset",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	if id == "" {
		ingress.WriteError(w, mediaerr.BadRequest("get asset", "MISSING_ID", "missing asset id in path"))
		return
	}
	span.SetAttributes(attribute.String("asset_id", id))

	as, err := ah.lookup(ctx, id)
	if err != nil {
		span.RecordError(err)
		ingress.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, as)
}

// lookup reads through the cache.
func (ah *AssetHandler) lookup(ctx context.Context, id string) (*models.StoredAsset, error) {
	log := ah.log.WithField("asset_id", id)
	if ah.cache != nil {
		cacheCtx, cacheSpan := tracer.Start(ctx, "cache_lookup")
		as, err := ah.cache.GetAsset(cacheCtx, id)
		cacheSpan.End()
		if err != nil {
			log.WithError(err).Warn("cache lookup failed")
		} else if as != nil {
			log.Debug("cache hit")
			return as, nil
		}
	}

	log.Debug("cache miss")
	dbCtx, dbSpan := tracer.Start(ctx, "db_lookup")
	defer dbSpan.End()

	as, err := ah.db.GetAsset(dbCtx, id)
	if err != nil {
		return nil, err
	}
	if ah.cache != nil {
		if err := ah.cache.SetAsset(dbCtx, as); err != nil {
			log.WithError(err).Warn("failed to update cache")
		}
	}
	return as, nil
}
