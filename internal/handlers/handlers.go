// Package handlers exposes the media pipeline over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/maneesh/blogmedia/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("blogmedia-handlers")

// AssetStore persists published asset rows.
type AssetStore interface {
	CreateAssets(ctx context.Context, assets []*models.StoredAsset) error
	GetAsset(ctx context.Context, id string) (*models.StoredAsset, error)
}

// AssetCache caches published asset metadata. GetAsset returns nil on a miss.
type AssetCache interface {
	GetAsset(ctx context.Context, id string) (*models.StoredAsset, error)
	SetAsset(ctx context.Context, as *models.StoredAsset) error
	InvalidateAssets(ctx context.Context, ids ...string) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
