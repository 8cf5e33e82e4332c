package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/blogmedia/internal/mediaerr"
	"github.com/maneesh/blogmedia/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Schema creates the published asset table.
const Schema = `CREATE TABLE IF NOT EXISTS assets (
	id             VARCHAR(36)  NOT NULL PRIMARY KEY,
	scene          VARCHAR(64)  NOT NULL,
	backend        VARCHAR(16)  NOT NULL,
	relative_path  VARCHAR(512) NOT NULL,
	url            VARCHAR(1024) NOT NULL,
	thumbnail_path VARCHAR(512) NOT NULL DEFAULT '',
	size_bytes     BIGINT       NOT NULL,
	mime_type      VARCHAR(128) NOT NULL,
	hash           CHAR(64)     NOT NULL DEFAULT '',
	created_at     DATETIME(6)  NOT NULL,
	KEY idx_assets_scene (scene, created_at)
)`

// AssetDB persists published asset rows in MySQL or TiDB.
type AssetDB struct {
	db *sql.DB
}

// NewAssetDB opens the database and verifies the connection.
func NewAssetDB(ctx context.Context, dsn string) (*AssetDB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &AssetDB{db: db}, nil
}

// Close closes the database connection.
func (a *AssetDB) Close() error {
	return a.db.Close()
}

// Ping checks the connection.
func (a *AssetDB) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// EnsureSchema creates the assets table when missing.
func (a *AssetDB) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateAssets inserts all assets in one transaction. Either every row is
// committed or none is.
func (a *AssetDB) CreateAssets(ctx context.Context, assets []*models.StoredAsset) (err error) {
	ctx, span := tracer.Start(ctx, "tidb.create_assets",
		trace.WithAttributes(
			attribute.Int("asset_count", len(assets)),
		),
	)
	defer span.End()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	const query = `INSERT INTO assets
		(id, scene, backend, relative_path, url, thumbnail_path, size_bytes, mime_type, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, as := range assets {
		_, err = stmt.ExecContext(ctx, as.ID, as.Scene, string(as.Backend), as.RelativePath, as.URL,
			as.ThumbnailPath, as.SizeBytes, as.MimeType, as.Hash, as.CreatedAt)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert asset %s: %w", as.RelativePath, err)
		}
	}

	if err = tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit assets: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetAsset retrieves a published asset by ID.
func (a *AssetDB) GetAsset(ctx context.Context, id string) (*models.StoredAsset, error) {
	ctx, span := tracer.Start(ctx, "tidb.get_asset",
		trace.WithAttributes(
			attribute.String("asset_id", id),
		),
	)
	defer span.End()

	const query = `SELECT id, scene, backend, relative_path, url, thumbnail_path, size_bytes, mime_type, hash, created_at
		FROM assets WHERE id = ?`

	var as models.StoredAsset
	var backend string
	err := a.db.QueryRowContext(ctx, query, id).Scan(
		&as.ID,
		&as.Scene,
		&backend,
		&as.RelativePath,
		&as.URL,
		&as.ThumbnailPath,
		&as.SizeBytes,
		&as.MimeType,
		&as.Hash,
		&as.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, mediaerr.NotFound("get asset", id, err)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query asset: %w", err)
	}
	as.Backend = models.Backend(backend)

	span.SetAttributes(attribute.Bool("found", true))
	return &as, nil
}
